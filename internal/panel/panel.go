// Package panel serves the rules panel protocol over a pair of JSON-lines streams.
//
// Inbound messages: getRules, setRule, syncRules, confirmResult.
// Outbound messages: setRules, syncComplete, confirm, notify.
// Every inbound request runs in its own goroutine; writes are serialized.
package panel

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/hpungsan/rulesync/internal/apply"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/ops"
	"github.com/hpungsan/rulesync/internal/rule"
)

// Message types.
const (
	TypeGetRules      = "getRules"
	TypeSetRule       = "setRule"
	TypeSyncRules     = "syncRules"
	TypeConfirmResult = "confirmResult"

	TypeSetRules     = "setRules"
	TypeSyncComplete = "syncComplete"
	TypeConfirm      = "confirm"
	TypeNotify       = "notify"
)

// Confirmation choices.
const (
	ChoiceYes = "Yes"
	ChoiceNo  = "No"
)

// maxMessageSize bounds one inbound line; setRule carries a full rule.
const maxMessageSize = 10 * 1024 * 1024

// Inbound is any message the panel sends to the host.
type Inbound struct {
	Type   string      `json:"type"`
	Rule   *rule.Entry `json:"rule,omitempty"`
	ID     string      `json:"id,omitempty"`
	Choice string      `json:"choice,omitempty"`
}

// SetRules carries the catalogue to the panel. LastSync is Unix milliseconds or null.
type SetRules struct {
	Type      string       `json:"type"`
	Rules     []rule.Entry `json:"rules"`
	LastSync  *int64       `json:"lastSync"`
	NeedsSync bool         `json:"needsSync"`
	IsOffline bool         `json:"isOffline"`
}

// SyncComplete follows the setRules of a successful manual sync.
type SyncComplete struct {
	Type     string `json:"type"`
	LastSync int64  `json:"lastSync"`
}

// Confirm asks the panel user a question; the answer arrives as confirmResult with the same ID.
type Confirm struct {
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Message string   `json:"message"`
	Options []string `json:"options"`
}

// Notify is an informational or error message for the user.
type Notify struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Options configures a Host.
type Options struct {
	Workspace apply.WorkspaceResolver
	FileName  string
	Logger    zerolog.Logger
}

// Host answers panel requests against a catalogue. It implements apply.Confirmer
// and apply.Notifier on top of the same channel.
type Host struct {
	cat       ops.Catalogue
	workspace apply.WorkspaceResolver
	fileName  string
	logger    zerolog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[string]chan bool
	closed  bool
}

// New creates a Host.
func New(cat ops.Catalogue, opts Options) *Host {
	ws := opts.Workspace
	if ws == nil {
		ws = apply.Dir("")
	}
	return &Host{
		cat:       cat,
		workspace: ws,
		fileName:  opts.FileName,
		logger:    opts.Logger,
		pending:   make(map[string]chan bool),
	}
}

// Serve reads requests from in until EOF, writing responses to out. The panel is
// sent the catalogue once on open, as if it had asked with getRules. At EOF any
// pending confirmation is declined, and Serve returns after in-flight requests finish.
func (h *Host) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	h.writeMu.Lock()
	h.enc = json.NewEncoder(out)
	h.writeMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	dispatch := func(msg Inbound) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handle(ctx, msg)
		}()
	}

	dispatch(Inbound{Type: TypeGetRules})

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Inbound
		if err := json.Unmarshal(line, &msg); err != nil {
			h.logger.Warn().Err(err).Msg("ignoring malformed panel message")
			continue
		}

		if msg.Type == TypeConfirmResult {
			h.resolve(msg.ID, msg.Choice)
			continue
		}
		dispatch(msg)
	}

	h.declineAll()
	wg.Wait()
	return scanner.Err()
}

func (h *Host) handle(ctx context.Context, msg Inbound) {
	switch msg.Type {
	case TypeGetRules:
		h.sendRules(ctx)
	case TypeSetRule:
		h.applyRule(ctx, msg.Rule)
	case TypeSyncRules:
		h.syncRules(ctx)
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("ignoring unknown panel message")
	}
}

func (h *Host) sendRules(ctx context.Context) {
	out, err := ops.Rules(ctx, h.cat)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to load rules")
		return
	}
	h.post(SetRules{
		Type:      TypeSetRules,
		Rules:     out.Rules,
		LastSync:  out.LastSync,
		NeedsSync: out.NeedsSync,
		IsOffline: out.IsOffline,
	})
}

func (h *Host) applyRule(ctx context.Context, r *rule.Entry) {
	if r == nil {
		h.logger.Warn().Msg("setRule without a rule")
		return
	}

	applier := &apply.Applier{
		Workspace: h.workspace,
		Confirm:   h,
		Notify:    h,
		FileName:  h.fileName,
		Logger:    h.logger,
	}
	// The applier reports its own failures through Notify.
	if _, err := ops.Apply(ctx, h.cat, applier, ops.ApplyInput{Rule: r}); err != nil {
		h.logger.Debug().Err(err).Str("slug", r.Slug).Msg("apply did not complete")
	}
}

func (h *Host) syncRules(ctx context.Context) {
	out, err := ops.Sync(ctx, h.cat)
	if err != nil {
		if errors.Is(err, errors.ErrCancelled) {
			return
		}
		msg := err.Error()
		if rErr, ok := errors.As(err); ok {
			msg = rErr.Message
		}
		h.Error(ctx, fmt.Sprintf("Failed to sync rules: %s", msg))
		return
	}

	lastSync := out.LastSync
	h.post(SetRules{Type: TypeSetRules, Rules: out.Rules, LastSync: &lastSync})
	h.post(SyncComplete{Type: TypeSyncComplete, LastSync: lastSync})
}

// Confirm implements apply.Confirmer by round-tripping a confirm message.
// It declines without asking once the input stream has ended.
func (h *Host) Confirm(ctx context.Context, message string) (bool, error) {
	id := ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String()
	ch := make(chan bool, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, nil
	}
	h.pending[id] = ch
	h.mu.Unlock()

	h.post(Confirm{Type: TypeConfirm, ID: id, Message: message, Options: []string{ChoiceYes, ChoiceNo}})

	select {
	case yes := <-ch:
		return yes, nil
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return false, ctx.Err()
	}
}

// Info implements apply.Notifier.
func (h *Host) Info(_ context.Context, message string) {
	h.post(Notify{Type: TypeNotify, Level: "info", Message: message})
}

// Error implements apply.Notifier.
func (h *Host) Error(_ context.Context, message string) {
	h.post(Notify{Type: TypeNotify, Level: "error", Message: message})
}

func (h *Host) resolve(id, choice string) {
	h.mu.Lock()
	ch, ok := h.pending[id]
	delete(h.pending, id)
	h.mu.Unlock()

	if !ok {
		h.logger.Warn().Str("id", id).Msg("confirmResult for unknown prompt")
		return
	}
	ch <- choice == ChoiceYes
}

func (h *Host) declineAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.pending {
		ch <- false
		delete(h.pending, id)
	}
}

func (h *Host) post(v any) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.enc == nil {
		return
	}
	if err := h.enc.Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write panel message")
	}
}
