package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"AgentEscrow/internal/auth"
	"AgentEscrow/internal/capability"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/gas"
	"AgentEscrow/internal/ledger"
	"AgentEscrow/internal/web3"
	"AgentEscrow/internal/web3/provider"
)

var credentialFlag = &cli.StringFlag{
	Name:    "credential",
	Usage:   "session credential blob",
	EnvVars: []string{"ESCROW_SESSION_CREDENTIAL"},
}

func issueCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue",
		Usage: "mint a session key limited to the escrow contract and install it on the account",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "validity", Usage: "lifetime of the session key", Value: capability.DefaultValidity},
			&cli.StringSliceFlag{Name: "token", Usage: "token symbol the key may approve (repeatable)"},
			&cli.BoolFlag{Name: "install", Usage: "install the permission on-chain with the owner key", Value: true},
			&cli.StringFlag{Name: "gas", Usage: "gas strategy for the install: self-funded, erc20-sponsored or auto", Value: string(gas.SelfFunded)},
		},
		Action: func(c *cli.Context) error {
			nets, network, err := resolveNetwork(c)
			if err != nil {
				return err
			}
			key, err := ownerKey(c)
			if err != nil {
				return err
			}
			strategy, err := gas.ParseStrategy(c.String("gas"))
			if err != nil {
				return err
			}
			issued, err := capability.Issue(nets, capability.IssueRequest{
				OwnerKey: key,
				ChainID:  network.ChainID,
				Validity: c.Duration("validity"),
				Tokens:   c.StringSlice("token"),
			})
			if err != nil {
				return err
			}
			out := issueOutput{Issued: issued}
			if !c.Bool("install") {
				return printJSON(c, out)
			}

			ep, closeFn, err := connect(c.Context, nets, network)
			if err != nil {
				return err
			}
			defer closeFn()
			if ep.Bundler == nil {
				return xerrors.New(xerrors.CodeUnsupportedChain, "no bundler configured for "+network.Name)
			}
			hash, err := capability.Install(c.Context, nets, capability.InstallRequest{
				OwnerKey:   key,
				Credential: issued.Credential,
				ChainID:    network.ChainID,
				Strategy:   strategy,
				Balances:   ep.Chain,
			}, ep.Bundler)
			if err != nil {
				// The credential stays usable once installed later, so keep it.
				_ = printJSON(c, out)
				return err
			}
			out.InstallTx = hash.Hex()
			return printJSON(c, out)
		},
	}
}

type issueOutput struct {
	capability.Issued
	InstallTx string `json:"installTx,omitempty"`
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "print the public part of a credential",
		Flags: []cli.Flag{credentialFlag},
		Action: func(c *cli.Context) error {
			info, err := capability.Inspect(c.String("credential"))
			if err != nil {
				return err
			}
			return printJSON(c, struct {
				capability.Info
				Expired bool `json:"expired"`
			}{info, time.Now().After(info.ValidUntil())})
		},
	}
}

func revokeCommand() *cli.Command {
	return &cli.Command{
		Name:  "revoke",
		Usage: "uninstall the session key permission with the owner key",
		Flags: []cli.Flag{
			credentialFlag,
			&cli.StringFlag{Name: "gas", Usage: "gas strategy: self-funded, erc20-sponsored or auto", Value: string(gas.SelfFunded)},
		},
		Action: func(c *cli.Context) error {
			nets, network, err := resolveNetwork(c)
			if err != nil {
				return err
			}
			key, err := ownerKey(c)
			if err != nil {
				return err
			}
			strategy, err := gas.ParseStrategy(c.String("gas"))
			if err != nil {
				return err
			}
			ep, closeFn, err := connect(c.Context, nets, network)
			if err != nil {
				return err
			}
			defer closeFn()
			if ep.Bundler == nil {
				return xerrors.New(xerrors.CodeUnsupportedChain, "no bundler configured for "+network.Name)
			}
			hash, err := capability.Revoke(c.Context, nets, capability.RevokeRequest{
				OwnerKey:     key,
				Credential:   c.String("credential"),
				ChainID:      network.ChainID,
				Strategy:     strategy,
				Balances:     ep.Chain,
				Installation: capability.NewRevocationWatcher(ep.Chain, 0),
			}, ep.Bundler)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "revocation included in %s\n", hash.Hex())
			return nil
		},
	}
}

func waitRevokedCommand() *cli.Command {
	return &cli.Command{
		Name:  "wait-revoked",
		Usage: "block until the credential's permission is gone on-chain",
		Flags: []cli.Flag{
			credentialFlag,
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second},
		},
		Action: func(c *cli.Context) error {
			info, err := capability.Inspect(c.String("credential"))
			if err != nil {
				return err
			}
			nets, network, err := resolveNetwork(c)
			if err != nil {
				return err
			}
			ep, closeFn, err := connect(c.Context, nets, network)
			if err != nil {
				return err
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			if err := capability.NewRevocationWatcher(ep.Chain, c.Duration("interval")).WaitRevoked(ctx, info); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "permission %s is no longer installed\n", info.PermissionID.Hex())
			return nil
		},
	}
}

func topupCommand() *cli.Command {
	return &cli.Command{
		Name:  "topup",
		Usage: "send native gas from the owner EOA to the smart account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wei", Usage: "amount in wei", Required: true},
			&cli.StringFlag{Name: "account", Usage: "smart account (defaults to the derived account)"},
		},
		Action: func(c *cli.Context) error {
			amount, ok := new(big.Int).SetString(c.String("wei"), 10)
			if !ok || amount.Sign() <= 0 {
				return xerrors.New(xerrors.CodeInvalidArgument, "wei must be a positive integer")
			}
			nets, network, err := resolveNetwork(c)
			if err != nil {
				return err
			}
			key, err := ownerKey(c)
			if err != nil {
				return err
			}
			account, err := targetAccount(c.String("account"), network, key)
			if err != nil {
				return err
			}
			ep, closeFn, err := connect(c.Context, nets, network)
			if err != nil {
				return err
			}
			defer closeFn()
			hash, err := ep.Chain.SendTransaction(c.Context, key, web3.Call{To: account, Value: amount})
			if err != nil {
				return err
			}
			receipt, err := ep.Chain.WaitMined(c.Context, hash, time.Second)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "sent %s wei to %s in %s (block %s)\n",
				amount, account.Hex(), hash.Hex(), receipt.BlockNumber)
			return nil
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "register the owner wallet with the escrow backend and print the API key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Value: "https://abbababa.com"},
			&cli.StringFlag{Name: "name", Usage: "agent name", Required: true},
			&cli.StringFlag{Name: "description"},
		},
		Action: func(c *cli.Context) error {
			key, err := ownerKey(c)
			if err != nil {
				return err
			}
			reg, err := ledger.Register(c.Context, ledger.Config{BaseURL: c.String("backend")}, ledger.RegisterRequest{
				Key:              key,
				AgentName:        c.String("name"),
				AgentDescription: c.String("description"),
			})
			if err != nil {
				return err
			}
			return printJSON(c, reg)
		},
	}
}

func adminTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin-token",
		Usage: "sign a bearer token for the escrowd admin API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", EnvVars: []string{"ESCROWD_ADMIN_SECRET"}, Required: true},
			&cli.StringFlag{Name: "user", Value: "operator"},
			&cli.StringSliceFlag{Name: "scope", Usage: "scope to grant (repeatable, default deliveries:read and escrow:read)"},
			&cli.DurationFlag{Name: "ttl", Value: 12 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			svc, err := auth.NewService(auth.Config{Secret: c.String("secret"), TokenTTL: c.Duration("ttl")})
			if err != nil {
				return err
			}
			scopes, err := auth.ParseScopes(c.StringSlice("scope"))
			if err != nil {
				return err
			}
			token, err := svc.Issue(c.String("user"), scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func resolveNetwork(c *cli.Context) (*web3.Networks, web3.Network, error) {
	defs, err := web3.LoadChainDefinitions(c.String("chains"))
	if err != nil {
		return nil, web3.Network{}, err
	}
	nets, err := web3.NewNetworks(defs)
	if err != nil {
		return nil, web3.Network{}, err
	}
	network, err := nets.Resolve(c.String("chain"))
	if err != nil {
		return nil, web3.Network{}, err
	}
	return nets, network, nil
}

func connect(ctx context.Context, nets *web3.Networks, network web3.Network) (*provider.Endpoints, func(), error) {
	reg, err := provider.NewRegistry(ctx, nets, provider.Options{DefaultChain: network.Name})
	if err != nil {
		return nil, nil, err
	}
	ep, err := reg.Default()
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	return ep, reg.Close, nil
}

func ownerKey(c *cli.Context) (*ecdsa.PrivateKey, error) {
	env := c.String("owner-key-env")
	raw := strings.TrimPrefix(strings.TrimSpace(os.Getenv(env)), "0x")
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("owner key not set in $%s", env))
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidCredential, err, "owner key is not a valid secp256k1 key")
	}
	return key, nil
}

func targetAccount(flag string, network web3.Network, key *ecdsa.PrivateKey) (common.Address, error) {
	if flag != "" {
		if !common.IsHexAddress(flag) {
			return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "account is not an address")
		}
		return common.HexToAddress(flag), nil
	}
	return capability.DeriveAccount(network, crypto.PubkeyToAddress(key.PublicKey))
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
