package models

// Atom kinds.
const (
	AtomKindAction = "action.v1"
	AtomKindEffect = "effect.v1"
)

// Action verbs.
const (
	DidMessengerSend  = "messenger.send"
	DidRoomCreate     = "room.create"
	DidTenantCreate   = "tenant.create"
	DidDocumentCreate = "office.document.create"
	DidDocumentGet    = "office.document.get"
	DidDocumentSearch = "office.document.search"
	DidLLMComplete    = "office.llm.complete"
	DidPolicyEvaluate = "policy.evaluate"
)

// Action statuses.
const (
	StatusExecuted = "executed"
	StatusPending  = "pending"
	StatusFailed   = "failed"
)

// Effect outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Who identifies the actor behind an action atom.
type Who struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	IsService bool   `json:"is_service,omitempty"`
}

// Trace carries request correlation into the ledger.
type Trace struct {
	RequestID string `json:"request_id"`
}

// EffectOp is one concrete state change recorded by an effect atom.
type EffectOp struct {
	Op          string `json:"op"`
	RoomID      string `json:"room_id,omitempty"`
	RoomSeq     int64  `json:"room_seq,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
}

// Pointers lets an effect atom name the entities it produced.
type Pointers struct {
	MsgID      string `json:"msg_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// AtomError is the error payload of a failed effect.
type AtomError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Atom is one ledger entry: an action.v1 (what was attempted) or an effect.v1
// (what resulted), discriminated by Kind. The CID is the content hash of the
// atom without its own cid field; PrevHash links actions into the shard's
// hash chain; RefActionCID ties an effect to its action.
type Atom struct {
	Kind     string `json:"kind"`
	TenantID string `json:"tenant_id"`
	CID      string `json:"cid,omitempty"`
	When     string `json:"when"`

	// action.v1 fields
	PrevHash    string         `json:"prev_hash,omitempty"`
	Who         *Who           `json:"who,omitempty"`
	Did         string         `json:"did,omitempty"`
	This        map[string]any `json:"this,omitempty"`
	AgreementID string         `json:"agreement_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Trace       *Trace         `json:"trace,omitempty"`

	// effect.v1 fields
	RefActionCID string     `json:"ref_action_cid,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	Effects      []EffectOp `json:"effects,omitempty"`
	Pointers     *Pointers  `json:"pointers,omitempty"`
	Error        *AtomError `json:"error,omitempty"`
}

// IsAction reports whether the atom is an action.v1.
func (a *Atom) IsAction() bool { return a.Kind == AtomKindAction }

// Receipt proves an atom was appended to a ledger shard.
type Receipt struct {
	LedgerShard string `json:"ledger_shard"`
	Seq         int64  `json:"seq"`
	CID         string `json:"cid"`
	HeadHash    string `json:"head_hash"`
	Time        string `json:"time"`
}
