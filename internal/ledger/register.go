package ledger

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/pkg/logger"
)

const registerPath = "/api/v1/auth/register"

// RegisterRequest describes a headless agent registration.
type RegisterRequest struct {
	Key              *ecdsa.PrivateKey
	AgentName        string
	AgentDescription string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Registration is the backend's answer to a successful registration.
type Registration struct {
	APIKey        string `json:"apiKey"`
	AgentID       string `json:"agentId"`
	DeveloperID   string `json:"developerId"`
	WalletAddress string `json:"walletAddress"`
	PublicKey     string `json:"publicKey"`
}

// RegisterMessage builds the text the wallet signs to register on host.
func RegisterMessage(host string, wallet common.Address, at time.Time) string {
	return fmt.Sprintf("Register on %s\nWallet: %s\nTimestamp: %d", host, wallet.Hex(), at.Unix())
}

// Register signs the registration message with the wallet key and exchanges it
// for an API key. cfg.APIKey is not needed.
func Register(ctx context.Context, cfg Config, req RegisterRequest) (Registration, error) {
	if req.Key == nil {
		return Registration{}, xerrors.New(xerrors.CodeInvalidArgument, "wallet key is required")
	}
	if strings.TrimSpace(req.AgentName) == "" {
		return Registration{}, xerrors.New(xerrors.CodeInvalidArgument, "agent name is required")
	}
	c, err := newClient(cfg)
	if err != nil {
		return Registration{}, err
	}
	now := time.Now
	if req.Now != nil {
		now = req.Now
	}

	wallet := crypto.PubkeyToAddress(req.Key.PublicKey)
	message := RegisterMessage(c.baseURL.Hostname(), wallet, now())
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), req.Key)
	if err != nil {
		return Registration{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sign registration message")
	}
	sig[crypto.RecoveryIDOffset] += 27

	payload, err := json.Marshal(map[string]string{
		"message":          message,
		"signature":        hexutil.Encode(sig),
		"agentName":        req.AgentName,
		"agentDescription": req.AgentDescription,
	})
	if err != nil {
		return Registration{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request")
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, registerPath, nil, bytes.NewReader(payload))
	if err != nil {
		return Registration{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Registration{}, c.transportError(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Registration{}, c.transportError(err)
	}

	// Registration answers with a flat object rather than the data envelope.
	var env envelope
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if env.Error == "" {
			env.Error = fmt.Sprintf("registration failed (HTTP %d)", resp.StatusCode)
		}
		return Registration{}, c.statusError(resp, env)
	}
	var out Registration
	if err := json.Unmarshal(raw, &out); err != nil {
		return Registration{}, xerrors.Wrap(xerrors.CodeUnknown, err,
			fmt.Sprintf("invalid JSON response (HTTP %d)", resp.StatusCode))
	}
	if out.APIKey == "" {
		return Registration{}, xerrors.New(xerrors.CodeUnknown, "registration response carries no api key")
	}
	logger.Audit().Info("agent registered",
		"wallet", wallet.Hex(),
		"agent_id", out.AgentID,
		"backend", c.baseURL.Host)
	return out, nil
}
