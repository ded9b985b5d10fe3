// Package service wires the engines together behind the tool surface
// the server exposes. One Service owns the node connection, registry,
// and signer for the life of the process.
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/ethquery/internal/balance"
	"github.com/ggonzalez94/ethquery/internal/config"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/metrics"
	"github.com/ggonzalez94/ethquery/internal/node"
	"github.com/ggonzalez94/ethquery/internal/price"
	"github.com/ggonzalez94/ethquery/internal/registry"
	"github.com/ggonzalez94/ethquery/internal/signer"
	"github.com/ggonzalez94/ethquery/internal/swap"
)

type Service struct {
	node     *node.Client
	registry *registry.Registry
	store    *registry.Store
	balances *balance.Resolver
	prices   *price.Engine
	swaps    *swap.Engine
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// New connects to the node, verifies the chain, and builds the
// engines. A missing signing key is not fatal here; only swap
// requests need one and they fail individually without it.
func New(ctx context.Context, cfg config.Settings, m *metrics.Metrics, log logrus.FieldLogger) (*Service, error) {
	if m == nil {
		m = metrics.Nop()
	}

	client, err := node.Dial(ctx, cfg.RPCURL, node.Options{
		Timeout:      cfg.CallTimeout,
		RateLimitRPS: cfg.RateLimitRPS,
		Metrics:      m,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, apperr.Wrap(apperr.CodeUpstream, "chain id probe failed", err)
	}
	if chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, apperr.Newf(apperr.CodeConfig, "node is on chain %s, configured for %d", chainID, cfg.ChainID)
	}

	contracts, err := registry.ContractsFor(uint64(cfg.ChainID))
	if err != nil {
		client.Close()
		return nil, err
	}

	var store *registry.Store
	if cfg.CachePath != "" {
		store, err = registry.OpenStore(cfg.CachePath, cfg.CacheLock)
		if err != nil {
			log.WithError(err).Warn("token cache unavailable, continuing without persistence")
			store = nil
		}
	}

	reg, err := registry.New(registry.Options{
		ChainID: uint64(cfg.ChainID),
		Node:    client,
		Store:   store,
		Logger:  log,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	var localSigner *signer.Local
	if cfg.PrivateKey != "" {
		localSigner, err = signer.FromHex(cfg.PrivateKey)
		if err != nil {
			client.Close()
			return nil, err
		}
		log.WithField("address", localSigner.Address().Hex()).Info("wallet loaded")
	} else {
		log.Info("no wallet configured, swap simulation disabled")
	}

	prices := price.NewEngine(price.Options{
		Node:       client,
		Registry:   reg,
		Contracts:  contracts,
		StaleAfter: cfg.StaleAfter,
		Logger:     log,
	})
	swaps := swap.NewEngine(swap.Options{
		Node:      client,
		Registry:  reg,
		Contracts: contracts,
		Signer:    localSigner,
		Logger:    log,
	})

	return &Service{
		node:     client,
		registry: reg,
		store:    store,
		balances: balance.NewResolver(client, reg),
		prices:   prices,
		swaps:    swaps,
		metrics:  m,
		log:      log,
	}, nil
}

func (s *Service) Close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	s.node.Close()
}

func (s *Service) GetBalance(ctx context.Context, wallet, token string) (*balance.Result, error) {
	start := time.Now()
	res, err := s.balances.Get(ctx, wallet, token)
	s.metrics.ObserveTool("get_balance", start, err)
	return res, err
}

func (s *Service) GetTokenPrice(ctx context.Context, token, currency string) (*price.Result, error) {
	start := time.Now()
	res, err := s.prices.Get(ctx, token, currency)
	s.metrics.ObserveTool("get_token_price", start, err)
	return res, err
}

func (s *Service) SwapTokens(ctx context.Context, req swap.Request) (*swap.Result, error) {
	start := time.Now()
	res, err := s.swaps.Simulate(ctx, req)
	s.metrics.ObserveTool("swap_tokens", start, err)
	return res, err
}
