package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/generation"
	"github.com/casualjim/chatwire/internal/broker"
	"github.com/casualjim/chatwire/internal/config"
	"github.com/casualjim/chatwire/ledger"
	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/pkg/natsx"
	"github.com/casualjim/chatwire/pkg/slogx"
	"github.com/casualjim/chatwire/provider"
	"github.com/casualjim/chatwire/store"
	"github.com/casualjim/chatwire/store/sqlite"
	"github.com/casualjim/chatwire/transport"
)

// activityCapacity is how many recent events /activity can show.
const activityCapacity = 1024

// app holds the wired pipeline shared by every command.
type app struct {
	cfg        *config.Config
	store      store.Store
	ledger     *ledger.Ledger
	topic      broker.Topic
	activity   *events.Log
	catalog    *provider.Catalog
	resolver   *provider.CatalogResolver
	controller *generation.Controller

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	db, err := sqlite.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		store:    db,
		catalog:  catalog,
		activity: events.NewLog(activityCapacity),
		closers:  []func() error{db.Close},
	}

	var bus broker.Broker = broker.Local()
	if cfg.NATS.Enabled() {
		nc, err := natsx.NewClient(cfg.NATS.URL)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsx.ResolveURL(cfg.NATS.URL), err)
		}
		a.closers = append(a.closers, nc.Drain)
		bus = broker.NATS(nc, "")
		slog.DebugContext(ctx, "publishing events over NATS", slogx.LoggerName("chatwire"), slog.String("url", nc.ConnectedUrl()))
	}
	a.topic = bus.Topic(ctx, cmp.Or(cfg.NATS.Subject, natsx.DefaultSubject))

	var l *ledger.Ledger
	syncer := store.NewSyncer(db, store.SourceFunc(func(id string) (messages.Conversation, bool) {
		return l.Conversation(id)
	}))
	recorder := events.Multi(
		events.HookRecorder(syncer),
		events.SlogRecorder(slog.Default()),
		a.activity,
		broker.Recorder(a.topic),
	)
	l = ledger.New(ledger.WithRecorder(recorder))

	stored, err := db.LoadAll(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	l.Restore(stored...)
	a.ledger = l

	a.resolver = provider.NewCatalogResolver(catalog, provider.WithModelLister(transport.NewOllamaModels()))
	a.controller = generation.NewController(l, provider.NewBuilder(catalog), transport.NewHTTP(),
		generation.WithAvailability(a.resolver),
		generation.WithRecorder(recorder),
		generation.WithDefaultParams(cfg.Defaults.Params),
	)
	return a, nil
}

// newConversation starts a conversation on the configured default target.
func (a *app) newConversation(ctx context.Context) messages.Conversation {
	target := a.cfg.Defaults.Target()
	return a.ledger.Create(ctx, target.ProviderID, target.ModelID)
}

// conversation finds a conversation by its position in List (1-based), its id
// or a unique id prefix.
func (a *app) conversation(ref string) (messages.Conversation, error) {
	if conv, ok := a.ledger.Conversation(ref); ok {
		return conv, nil
	}
	all := a.ledger.List()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(all) {
		return all[n-1], nil
	}

	var found []messages.Conversation
	for _, conv := range all {
		if ref != "" && strings.HasPrefix(conv.ID, ref) {
			found = append(found, conv)
		}
	}
	switch len(found) {
	case 0:
		return messages.Conversation{}, fmt.Errorf("%w: %s", ledger.ErrConversationNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return messages.Conversation{}, fmt.Errorf("conversation id %q is ambiguous (%d matches)", ref, len(found))
	}
}

func (a *app) Close() error {
	var errs []error
	for _, closer := range slices.Backward(a.closers) {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}
