package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownStepType marks a workflow definition naming a step type the
// engine does not implement. Callers can classify load failures with
// errors.Is.
var ErrUnknownStepType = errors.New("unknown step type")

// StepType identifies an action kind within a workflow.
type StepType string

const (
	StepAITask        StepType = "ai_task"
	StepAIAgent       StepType = "ai_agent"
	StepSendEmail     StepType = "send_email"
	StepChatMessage   StepType = "chat_message"
	StepMailboxRead   StepType = "mailbox_read"
	StepMailboxSend   StepType = "mailbox_send"
	StepWebSearch     StepType = "web_search"
	StepCreateTask    StepType = "crm_create_task"
	StepUpdateDeal    StepType = "crm_update_deal"
	StepCreateContact StepType = "crm_create_contact"
	StepCondition     StepType = "condition"
)

// MaxWorkflowSteps bounds the length of a single rule's chain.
const MaxWorkflowSteps = 20

// Step is one entry in a rule's workflow. Config holds the typed,
// validated configuration for the step's type; later steps reference this
// step's output by its ID.
type Step struct {
	ID     string
	Type   StepType
	Config StepConfig
}

// StepConfig is the closed set of per-type step configurations.
type StepConfig interface {
	// Validate reports missing or malformed required fields.
	Validate() error
}

// AITaskConfig generates text from a prompt via the AI gateway.
type AITaskConfig struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	UseContext  bool    `json:"use_context,omitempty"`
}

func (c *AITaskConfig) Validate() error {
	if c.Prompt == "" {
		return fmt.Errorf("ai_task: prompt is required")
	}
	return nil
}

// AIAgentConfig runs a tool-calling loop: the model can read and mutate
// CRM records through a bounded set of tools.
type AIAgentConfig struct {
	Goal         string `json:"goal"`
	Model        string `json:"model,omitempty"`
	MaxToolCalls int    `json:"max_tool_calls,omitempty"`
}

func (c *AIAgentConfig) Validate() error {
	if c.Goal == "" {
		return fmt.Errorf("ai_agent: goal is required")
	}
	if c.MaxToolCalls < 0 {
		return fmt.Errorf("ai_agent: max_tool_calls must not be negative")
	}
	return nil
}

// SendEmailConfig sends an outbound email through the email endpoint.
type SendEmailConfig struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c *SendEmailConfig) Validate() error {
	if c.To == "" {
		return fmt.Errorf("send_email: to is required")
	}
	if c.Subject == "" && c.Body == "" {
		return fmt.Errorf("send_email: subject or body is required")
	}
	return nil
}

// ChatMessageConfig posts a message to the tenant's chat channel.
type ChatMessageConfig struct {
	Text       string `json:"text"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (c *ChatMessageConfig) Validate() error {
	if c.Text == "" {
		return fmt.Errorf("chat_message: text is required")
	}
	return nil
}

// MailboxReadConfig reads recent messages from an inbound mailbox.
type MailboxReadConfig struct {
	Mailbox string `json:"mailbox"`
	Limit   int    `json:"limit,omitempty"`
}

func (c *MailboxReadConfig) Validate() error {
	if c.Mailbox == "" {
		return fmt.Errorf("mailbox_read: mailbox is required")
	}
	return nil
}

// MailboxSendConfig sends a message from an outbound mailbox.
type MailboxSendConfig struct {
	Mailbox string `json:"mailbox"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

func (c *MailboxSendConfig) Validate() error {
	if c.Mailbox == "" {
		return fmt.Errorf("mailbox_send: mailbox is required")
	}
	if c.To == "" {
		return fmt.Errorf("mailbox_send: to is required")
	}
	return nil
}

// WebSearchConfig queries the web-search provider.
type WebSearchConfig struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (c *WebSearchConfig) Validate() error {
	if c.Query == "" {
		return fmt.Errorf("web_search: query is required")
	}
	return nil
}

// CreateTaskConfig creates a CRM task record.
type CreateTaskConfig struct {
	Title    string `json:"title"`
	DueHours int    `json:"due_hours,omitempty"`
}

func (c *CreateTaskConfig) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("crm_create_task: title is required")
	}
	return nil
}

// UpdateDealConfig sets one field on a CRM deal record.
type UpdateDealConfig struct {
	DealID string `json:"deal_id"`
	Field  string `json:"field"`
	Value  string `json:"value"`
}

func (c *UpdateDealConfig) Validate() error {
	if c.DealID == "" {
		return fmt.Errorf("crm_update_deal: deal_id is required")
	}
	if c.Field != "stage" && c.Field != "amount" && c.Field != "name" {
		return fmt.Errorf("crm_update_deal: field must be stage, amount or name")
	}
	return nil
}

// CreateContactConfig creates a CRM contact record.
type CreateContactConfig struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (c *CreateContactConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("crm_create_contact: name is required")
	}
	return nil
}

// rawStep is the storage shape of a step before validation.
type rawStep struct {
	ID     string          `json:"id"`
	Type   StepType        `json:"type"`
	Config json.RawMessage `json:"config"`
}

// ParseWorkflow validates a stored workflow definition into typed steps.
// It is called once at rule load, not per execution; a schema mismatch
// fails the rule load with a diagnostic naming the offending step.
func ParseWorkflow(raw []byte) ([]Step, error) {
	var rawSteps []rawStep
	if err := json.Unmarshal(raw, &rawSteps); err != nil {
		return nil, fmt.Errorf("workflow is not a step list: %w", err)
	}
	if len(rawSteps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}
	if len(rawSteps) > MaxWorkflowSteps {
		return nil, fmt.Errorf("workflow has %d steps, max is %d", len(rawSteps), MaxWorkflowSteps)
	}

	steps := make([]Step, 0, len(rawSteps))
	seen := make(map[string]bool, len(rawSteps))
	for i, rs := range rawSteps {
		cfg, err := newStepConfig(rs.Type)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if len(rs.Config) > 0 {
			if err := json.Unmarshal(rs.Config, cfg); err != nil {
				return nil, fmt.Errorf("step %d (%s): invalid config: %w", i+1, rs.Type, err)
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		id := rs.ID
		if id == "" {
			id = string(rs.Type)
		}
		if seen[id] {
			return nil, fmt.Errorf("step %d: duplicate step id %q", i+1, id)
		}
		seen[id] = true

		steps = append(steps, Step{ID: id, Type: rs.Type, Config: cfg})
	}
	return steps, nil
}

// newStepConfig is the single point where step types map to config
// structs; an unrecognized type is an error here, never a silent no-op.
func newStepConfig(t StepType) (StepConfig, error) {
	switch t {
	case StepAITask:
		return &AITaskConfig{}, nil
	case StepAIAgent:
		return &AIAgentConfig{}, nil
	case StepSendEmail:
		return &SendEmailConfig{}, nil
	case StepChatMessage:
		return &ChatMessageConfig{}, nil
	case StepMailboxRead:
		return &MailboxReadConfig{}, nil
	case StepMailboxSend:
		return &MailboxSendConfig{}, nil
	case StepWebSearch:
		return &WebSearchConfig{}, nil
	case StepCreateTask:
		return &CreateTaskConfig{}, nil
	case StepUpdateDeal:
		return &UpdateDealConfig{}, nil
	case StepCreateContact:
		return &CreateContactConfig{}, nil
	case StepCondition:
		return &Condition{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStepType, t)
	}
}

// MarshalJSON round-trips a step back to its storage shape.
func (s Step) MarshalJSON() ([]byte, error) {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rawStep{ID: s.ID, Type: s.Type, Config: cfg})
}

// UnmarshalJSON parses a single step through the same validation path as
// ParseWorkflow.
func (s *Step) UnmarshalJSON(data []byte) error {
	var rs rawStep
	if err := json.Unmarshal(data, &rs); err != nil {
		return err
	}
	cfg, err := newStepConfig(rs.Type)
	if err != nil {
		return err
	}
	if len(rs.Config) > 0 {
		if err := json.Unmarshal(rs.Config, cfg); err != nil {
			return fmt.Errorf("step %s: invalid config: %w", rs.Type, err)
		}
	}
	id := rs.ID
	if id == "" {
		id = string(rs.Type)
	}
	*s = Step{ID: id, Type: rs.Type, Config: cfg}
	return nil
}
