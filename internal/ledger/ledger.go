// Package ledger implements the per-shard append-only hash chain. A
// Coordinator is the sole writer for one (tenant, shard) pair: it owns the
// sequence counter, the running head hash, a bounded hot window of recent
// atoms, and a content-addressed dedup map.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/canon"
	"github.com/ubl-proto/ubl/internal/metrics"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/runtime"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

// DefaultShard is the only shard per tenant in this core.
const DefaultShard = "0"

// Limits bound the coordinator's in-memory windows.
type Limits struct {
	HotLimit   int
	DedupLimit int
}

// DefaultLimits match the documented resource bounds.
var DefaultLimits = Limits{HotLimit: 2000, DedupLimit: 5000}

// entry is one hot-window slot. The head after the atom travels with it so
// duplicate appends and chain verification can replay history.
type entry struct {
	Seq  int64       `json:"seq"`
	Head string      `json:"head"`
	Atom models.Atom `json:"atom"`
}

type dedupEntry struct {
	CID string `json:"cid"`
	Seq int64  `json:"seq"`
}

// state is the durable blob saved atomically on every append.
type state struct {
	Seq         int64        `json:"seq"`
	Head        string       `json:"head"`
	TrimmedHead string       `json:"trimmed_head"` // head just before the oldest hot atom
	Hot         []entry      `json:"hot"`
	Dedup       []dedupEntry `json:"dedup"` // FIFO order
}

// ChainReport is the result of VerifyChain.
type ChainReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Coordinator is the single writer for one ledger shard.
type Coordinator struct {
	mu       sync.Mutex
	tenantID string
	shard    string
	key      string
	store    store.Store
	log      zerolog.Logger
	limits   Limits

	seq         int64
	head        string
	trimmedHead string
	hot         []entry
	dedup       map[string]int64
	dedupOrder  []string
}

// New loads or initializes the coordinator for a shard.
func New(ctx context.Context, st store.Store, log zerolog.Logger, tenantID, shard string, limits Limits) (*Coordinator, error) {
	if limits.HotLimit <= 0 {
		limits.HotLimit = DefaultLimits.HotLimit
	}
	if limits.DedupLimit <= 0 {
		limits.DedupLimit = DefaultLimits.DedupLimit
	}
	c := &Coordinator{
		tenantID:    tenantID,
		shard:       shard,
		key:         runtime.LedgerKey(tenantID, shard),
		store:       st,
		log:         log.With().Str("tenant", tenantID).Str("shard", shard).Logger(),
		limits:      limits,
		head:        canon.GenesisHead,
		trimmedHead: canon.GenesisHead,
		dedup:       make(map[string]int64),
	}
	raw, err := st.LoadState(ctx, c.key)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}
	if raw != nil {
		var s state
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ublerr.Wrap(err)
		}
		c.seq = s.Seq
		c.head = s.Head
		c.trimmedHead = s.TrimmedHead
		c.hot = s.Hot
		for _, d := range s.Dedup {
			c.dedup[d.CID] = d.Seq
			c.dedupOrder = append(c.dedupOrder, d.CID)
		}
	}
	return c, nil
}

// AppendAtom computes the atom's cid, extends the hash chain, and persists
// the new shard state in one transaction. The input atom must not carry a
// cid; for action atoms the previous head is spliced into prev_hash before
// hashing. A bit-identical replay is answered from the dedup map with the
// receipt of the original insertion.
func (c *Coordinator) AppendAtom(ctx context.Context, atom models.Atom) (*models.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if atom.CID != "" {
		return nil, ublerr.New(ublerr.ValidationError, "atom must not carry a cid")
	}
	if atom.IsAction() {
		atom.PrevHash = c.head
	}

	cid, err := canon.ComputeCID(atom)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}

	if seq, ok := c.dedup[cid]; ok {
		metrics.DuplicateAppends.Inc()
		return c.receiptAt(seq, cid), nil
	}

	newSeq := c.seq + 1
	newHead := canon.HeadHash(c.head, cid)
	atom.CID = cid
	now := time.Now().UTC().Format(time.RFC3339Nano)

	// Build the successor state first; nothing is committed until the store
	// write succeeds.
	next := state{
		Seq:         newSeq,
		Head:        newHead,
		TrimmedHead: c.trimmedHead,
		Hot:         append(append([]entry(nil), c.hot...), entry{Seq: newSeq, Head: newHead, Atom: atom}),
	}
	for len(next.Hot) > c.limits.HotLimit {
		next.TrimmedHead = next.Hot[0].Head
		next.Hot = next.Hot[1:]
	}
	order := append(append([]string(nil), c.dedupOrder...), cid)
	dedup := make(map[string]int64, len(c.dedup)+1)
	for k, v := range c.dedup {
		dedup[k] = v
	}
	dedup[cid] = newSeq
	for len(order) > c.limits.DedupLimit {
		delete(dedup, order[0])
		order = order[1:]
	}
	for _, k := range order {
		next.Dedup = append(next.Dedup, dedupEntry{CID: k, Seq: dedup[k]})
	}

	raw, err := json.Marshal(&next)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}
	if err := c.store.SaveState(ctx, c.key, raw); err != nil {
		c.log.Error().Err(err).Int64("seq", newSeq).Msg("ledger state persist failed")
		return nil, ublerr.New(ublerr.Internal, "ledger persist failed")
	}

	c.seq = newSeq
	c.head = newHead
	c.trimmedHead = next.TrimmedHead
	c.hot = next.Hot
	c.dedup = dedup
	c.dedupOrder = order

	metrics.AtomsAppended.WithLabelValues(atom.Kind).Inc()
	c.mirrorSpan(ctx, newSeq, newHead, atom)

	return &models.Receipt{
		LedgerShard: c.shard,
		Seq:         newSeq,
		CID:         cid,
		HeadHash:    newHead,
		Time:        now,
	}, nil
}

// receiptAt rebuilds the receipt for a previously appended atom. The head is
// the head as of that insertion when the atom is still hot; once evicted only
// the current head remains available.
func (c *Coordinator) receiptAt(seq int64, cid string) *models.Receipt {
	head := c.head
	when := time.Now().UTC().Format(time.RFC3339Nano)
	if e := c.hotAt(seq); e != nil {
		head = e.Head
		when = e.Atom.When
	}
	return &models.Receipt{
		LedgerShard: c.shard,
		Seq:         seq,
		CID:         cid,
		HeadHash:    head,
		Time:        when,
	}
}

func (c *Coordinator) hotAt(seq int64) *entry {
	if len(c.hot) == 0 {
		return nil
	}
	first := c.hot[0].Seq
	idx := seq - first
	if idx < 0 || idx >= int64(len(c.hot)) {
		return nil
	}
	return &c.hot[idx]
}

// mirrorSpan writes the atom into the index store. The keyed store is the
// source of truth; a mirror failure is logged, counted, and swallowed.
func (c *Coordinator) mirrorSpan(ctx context.Context, seq int64, head string, atom models.Atom) {
	raw, err := json.Marshal(&atom)
	if err != nil {
		metrics.IndexMirrorFailures.Inc()
		c.log.Error().Err(err).Int64("seq", seq).Msg("span mirror marshal failed")
		return
	}
	userID := ""
	if atom.Who != nil {
		userID = atom.Who.UserID
	}
	row := &store.SpanRow{
		ID:       fmt.Sprintf("span:%d", seq),
		TenantID: c.tenantID,
		Shard:    c.shard,
		Seq:      seq,
		UserID:   userID,
		Kind:     atom.Kind,
		Hash:     atom.CID,
		Size:     len(raw),
		Metadata: store.SpanMetadata{Seq: seq, HeadHash: head, Atom: atom},
	}
	if err := c.store.InsertSpan(ctx, row); err != nil {
		metrics.IndexMirrorFailures.Inc()
		c.log.Error().Err(err).Int64("seq", seq).Msg("span mirror insert failed")
	}
}

// GetBySeq returns the atom at seq and, when it is an action immediately
// followed by its own effect, that effect as well.
func (c *Coordinator) GetBySeq(ctx context.Context, seq int64) ([]models.Atom, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	atom, err := c.atomAt(ctx, seq)
	if err != nil {
		return nil, err
	}
	if atom == nil {
		return nil, ublerr.New(ublerr.NotFound, "no atom at seq %d", seq)
	}
	atoms := []models.Atom{*atom}
	if atom.IsAction() {
		next, err := c.atomAt(ctx, seq+1)
		if err == nil && next != nil && next.Kind == models.AtomKindEffect && next.RefActionCID == atom.CID {
			atoms = append(atoms, *next)
		}
	}
	return atoms, nil
}

func (c *Coordinator) atomAt(ctx context.Context, seq int64) (*models.Atom, error) {
	if seq < 1 || seq > c.seq {
		return nil, nil
	}
	if e := c.hotAt(seq); e != nil {
		atom := e.Atom
		return &atom, nil
	}
	row, err := c.store.GetSpan(ctx, c.tenantID, c.shard, seq)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}
	if row == nil {
		return nil, nil
	}
	atom := row.Metadata.Atom
	return &atom, nil
}

// QueryRecent pages atoms in descending seq order. cursor=0 starts at the
// newest atom; nextCursor=0 means nothing older remains.
func (c *Coordinator) QueryRecent(ctx context.Context, cursor int64, limit int) ([]models.Atom, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	start := c.seq
	if cursor > 0 && cursor < start {
		start = cursor
	}

	var atoms []models.Atom
	for seq := start; seq >= 1 && len(atoms) < limit; seq-- {
		atom, err := c.atomAt(ctx, seq)
		if err != nil {
			return nil, 0, err
		}
		if atom == nil {
			break
		}
		atoms = append(atoms, *atom)
	}

	var next int64
	if len(atoms) == limit {
		oldest := start - int64(len(atoms)) + 1
		if oldest > 1 {
			next = oldest - 1
		}
	}
	return atoms, next, nil
}

// GetState returns the shard's current sequence number and head hash.
func (c *Coordinator) GetState() (int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, c.head
}

// VerifyChain recomputes every cid and head over the hot window and checks
// each action's prev_hash against the running head.
func (c *Coordinator) VerifyChain() ChainReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := ChainReport{Valid: true, Errors: []string{}}
	running := c.trimmedHead

	for i, e := range c.hot {
		cid, err := canon.ComputeCID(e.Atom)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("atom %d (seq %d): cid recompute failed: %v", i, e.Seq, err))
			continue
		}
		if cid != e.Atom.CID {
			report.Errors = append(report.Errors, fmt.Sprintf("atom %d (seq %d): cid mismatch: stored %s computed %s", i, e.Seq, e.Atom.CID, cid))
		}
		if e.Atom.IsAction() && e.Atom.PrevHash != running {
			report.Errors = append(report.Errors, fmt.Sprintf("atom %d (seq %d): prev_hash %s does not match running head %s", i, e.Seq, e.Atom.PrevHash, running))
		}
		expected := canon.HeadHash(running, cid)
		if expected != e.Head {
			report.Errors = append(report.Errors, fmt.Sprintf("atom %d (seq %d): head mismatch: stored %s computed %s", i, e.Seq, e.Head, expected))
		}
		running = e.Head
	}
	if running != c.head {
		report.Errors = append(report.Errors, fmt.Sprintf("final head %s does not match stored head %s", running, c.head))
	}
	report.Valid = len(report.Errors) == 0
	return report
}

// TamperHot overwrites a hot atom in memory. Test hook for chain
// verification; never called by production code paths.
func (c *Coordinator) TamperHot(seq int64, mutate func(*models.Atom)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.hotAt(seq)
	if e == nil {
		return false
	}
	mutate(&e.Atom)
	return true
}
