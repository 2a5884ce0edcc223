package tracing

// Span attribute keys for orchestration tracing. These constants define
// the semantic conventions for span attributes across the system.
const (
	// Session attributes
	AttrSessionID  = "session.id"
	AttrBaseBranch = "session.base_branch"

	// CI attributes
	AttrCIName = "ci.name"
	AttrCIRole = "ci.role"
	AttrCIPort = "ci.port"

	// Provider attributes
	AttrProviderType  = "provider.type"
	AttrProviderModel = "provider.model"

	// Message attributes
	AttrMessageFrom   = "message.from"
	AttrMessageTo     = "message.to"
	AttrMessageKind   = "message.kind"
	AttrMessageThread = "message.thread_id"

	// Workflow attributes
	AttrWorkflowName  = "workflow.name"
	AttrWorkflowPhase = "workflow.phase"

	// Merge attributes
	AttrMergeSession  = "merge.session_id"
	AttrMergeBranchA  = "merge.branch_a"
	AttrMergeBranchB  = "merge.branch_b"
	AttrMergeConflict = "merge.conflict_index"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorKind    = "error.kind"
)

// SpanKind constants for categorizing span types.
const (
	SpanKindSession  = "session"
	SpanKindProvider = "provider"
	SpanKindBus      = "bus"
	SpanKindWorkflow = "workflow"
	SpanKindMerge    = "merge"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixProvider = "provider."
	SpanPrefixBus      = "bus."
	SpanPrefixWorkflow = "workflow."
	SpanPrefixMerge    = "merge."
	SpanPrefixArchive  = "archive."
)

// Event names for span events.
const (
	EventMessageQueued    = "message.queued"
	EventMessageDelivered = "message.delivered"
	EventRequestTimedOut  = "request.timed_out"
	EventPhaseAdvanced    = "workflow.phase_advanced"
	EventDigestSunset     = "digest.sunset"
	EventErrorOccurred    = "error.occurred"
)
