package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentEscrow/internal/capability"
	"AgentEscrow/internal/config"
	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/gas"
	"AgentEscrow/internal/inbox"
	"AgentEscrow/internal/web3"
	"AgentEscrow/internal/web3/provider"
	"AgentEscrow/pkg/logger"
)

type signerSet struct {
	primary web3.Signer
	owner   web3.Signer
}

// loadSigners loads the session credential and the owner signer. Either may be absent.
func loadSigners(ctx context.Context, cfg *config.Config, networks *web3.Networks, ep *provider.Endpoints) (signerSet, error) {
	var set signerSet
	strategy, err := gas.ParseStrategy(cfg.Wallet.GasStrategy)
	if err != nil {
		return set, err
	}
	var submitter capability.Submitter
	if ep.Bundler != nil {
		submitter = ep.Bundler
	}

	var account web3.Signer
	if cfg.Wallet.Credential != "" {
		if submitter == nil {
			return set, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("chain %s has no bundler configured, cannot use the session credential", ep.Network.Name))
		}
		session, err := capability.Load(ctx, networks, cfg.Wallet.Credential, ep.Network.ChainID, capability.LoadOptions{
			Strategy:     strategy,
			Submitter:    submitter,
			Balances:     ep.Chain,
			Installation: capability.NewRevocationWatcher(ep.Chain, 0),
		})
		if err != nil {
			return set, err
		}
		logger.Named("escrowd").Info("session credential loaded",
			slog.String("account", session.Address().Hex()),
			slog.String("delegate", session.Delegate().Hex()),
			slog.String("gas_strategy", session.Strategy().String()),
			slog.Time("valid_until", session.Info().ValidUntil()),
		)
		account = session
		set.primary = session
	}

	keyHex := strings.TrimPrefix(cfg.OwnerKeyHex(), "0x")
	if keyHex == "" {
		return set, nil
	}
	if submitter == nil {
		return set, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("chain %s has no bundler configured, cannot sign as owner", ep.Network.Name))
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return set, xerrors.Wrap(xerrors.CodeInvalidCredential, err, "owner private key is malformed")
	}
	var smartAccount common.Address
	if account != nil {
		smartAccount = account.Address()
	} else {
		smartAccount, err = capability.DeriveAccount(ep.Network, crypto.PubkeyToAddress(key.PublicKey))
		if err != nil {
			return set, err
		}
	}
	concrete := strategy
	if concrete == gas.Auto {
		concrete, err = gas.NewResolver(ep.Chain).Resolve(ctx, smartAccount, gas.Auto)
		if err != nil {
			return set, err
		}
	}
	owner := capability.NewOwnerSigner(key, smartAccount, concrete, submitter)
	set.owner = owner
	if set.primary == nil {
		set.primary = owner
	}
	return set, nil
}

func newDeliveryStore(ctx context.Context, cfg config.StoreConfig) (inbox.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return inbox.NewMemoryStore(), nil
	case "mysql":
		return inbox.NewMySQLStore(ctx, inbox.MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown store driver: "+cfg.Driver)
	}
}

func newDeliveryQueue(ctx context.Context, cfg config.QueueConfig) (inbox.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return inbox.NewMemoryQueue(cfg.Size), nil
	case "redis":
		return inbox.NewRedisQueue(ctx, inbox.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
	case "rabbitmq":
		return inbox.NewRabbitMQQueue(inbox.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
	case "nats":
		return inbox.NewNATSQueue(inbox.NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Group:   cfg.NATS.Group,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown queue driver: "+cfg.Driver)
	}
}
