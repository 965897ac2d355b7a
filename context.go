package arbiter

// TaskType classifies the workload a request represents. Weights and
// historical performance signals are resolved per task type.
type TaskType string

const (
	TaskChat       TaskType = "chat"
	TaskCompletion TaskType = "completion"
	TaskCode       TaskType = "code"
	TaskVision     TaskType = "vision"
	TaskEmbedding  TaskType = "embedding"
	TaskReasoning  TaskType = "reasoning"
)

// Capability names a model skill scored in [0,100] in the catalog.
type Capability string

const (
	CapabilityChat            Capability = "chat"
	CapabilityCode            Capability = "code"
	CapabilityVision          Capability = "vision"
	CapabilityReasoning       Capability = "reasoning"
	CapabilityFunctionCalling Capability = "function_calling"
	CapabilityEmbedding       Capability = "embedding"
)

// CapabilityRequirement is a hard constraint: models whose capability score
// falls below MinScore are never candidates.
type CapabilityRequirement struct {
	Capability Capability
	MinScore   int
}

// ComplianceStandard names a certification a tenant may require or prefer.
type ComplianceStandard string

const (
	ComplianceSOC2     ComplianceStandard = "soc2"
	ComplianceHIPAA    ComplianceStandard = "hipaa"
	ComplianceGDPR     ComplianceStandard = "gdpr"
	ComplianceISO27001 ComplianceStandard = "iso27001"
	ComplianceFedRAMP  ComplianceStandard = "fedramp"
)

// RequestContext is the immutable per-request bundle driving arbitration.
// It is created once per inbound request and passed by pointer to all
// collaborators; nothing mutates it after construction.
type RequestContext struct {
	TenantID  string
	ProjectID string
	UserID    string

	TaskType TaskType

	// Hard constraints. A model failing any of these is excluded before
	// scoring.
	RequiredCapabilities []CapabilityRequirement
	RequiredCompliance   []ComplianceStandard
	Regions              []string
	AllowProviders       []string
	DenyProviders        []string

	// Soft preferences feeding the compliance sub-score.
	PreferredCompliance []ComplianceStandard

	// BudgetCeilingUSD caps the estimated cost of a single request.
	// Zero means no per-request ceiling.
	BudgetCeilingUSD float64

	// Expected token volume used for cost estimation and token-dimension
	// quota consumption.
	ExpectedPromptTokens     int
	ExpectedCompletionTokens int

	// MaxFallbackAttempts overrides the engine default when > 0.
	MaxFallbackAttempts int

	Metadata map[string]any
}

// Identifier derives the canonical rate-limit key for this request.
// Quota is tenant-scoped; the user id refines the key when present so
// per-user limits can be configured without a second entry point.
func (c *RequestContext) Identifier() string {
	if c.UserID != "" {
		return "tenant:" + c.TenantID + ":user:" + c.UserID
	}
	return "tenant:" + c.TenantID
}

// ExpectedTokens returns the total token volume used for estimation.
func (c *RequestContext) ExpectedTokens() int {
	return c.ExpectedPromptTokens + c.ExpectedCompletionTokens
}

// Criteria projects the context's hard catalog constraints.
func (c *RequestContext) Criteria() Criteria {
	return Criteria{
		TaskType:     c.TaskType,
		Capabilities: c.RequiredCapabilities,
		Regions:      c.Regions,
		Allow:        c.AllowProviders,
		Deny:         c.DenyProviders,
	}
}
