package domain

import (
	"encoding/json"
	"fmt"
)

type ActionType string

const (
	ActionInfo       ActionType = "info"
	ActionText       ActionType = "text"
	ActionLongText   ActionType = "long_text"
	ActionDate       ActionType = "date"
	ActionFileUpload ActionType = "file_upload"
	ActionDocument   ActionType = "document"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionInfo, ActionText, ActionLongText, ActionDate, ActionFileUpload, ActionDocument:
		return true
	}
	return false
}

// Action is a single unit of work inside a task. StepNumber travels inside
// the data object on the wire so persisted documents keep one shape.
type Action struct {
	ID          string       `json:"id"`
	Type        ActionType   `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Completed   bool         `json:"completed"`
	CompletedAt *string      `json:"completed_at,omitempty"`
	CompletedBy *string      `json:"completed_by,omitempty"`
	StepNumber  int          `json:"-"`
	Data        ActionData   `json:"data,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

// ActionData is the type-specific payload of an action. Each ActionType has
// exactly one implementation.
type ActionData interface {
	ActionType() ActionType
}

type InfoData struct {
	InfoTitle       string   `json:"info_title"`
	InfoDescription string   `json:"info_description"`
	HasAttachments  bool     `json:"has_attachments,omitempty"`
	FileURLs        []string `json:"file_urls,omitempty"`
}

type TextData struct {
	Value       string `json:"value,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

type LongTextData struct {
	Value       string `json:"value,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

type DateData struct {
	Value string `json:"value,omitempty"`
}

type FileUploadData struct {
	AllowedTypes []string `json:"allowed_types,omitempty"`
	MaxSizeMB    float64  `json:"max_size_mb,omitempty"`
}

// DocumentData is a per-action mini form.
type DocumentData struct {
	Steps []Field `json:"steps"`
}

type Field struct {
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Value       string   `json:"value,omitempty"`
	Options     []string `json:"options,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
}

func (InfoData) ActionType() ActionType       { return ActionInfo }
func (TextData) ActionType() ActionType       { return ActionText }
func (LongTextData) ActionType() ActionType   { return ActionLongText }
func (DateData) ActionType() ActionType       { return ActionDate }
func (FileUploadData) ActionType() ActionType { return ActionFileUpload }
func (DocumentData) ActionType() ActionType   { return ActionDocument }

// NewActionData returns the empty payload for t.
func NewActionData(t ActionType) (ActionData, error) {
	switch t {
	case ActionInfo:
		return InfoData{}, nil
	case ActionText:
		return TextData{}, nil
	case ActionLongText:
		return LongTextData{}, nil
	case ActionDate:
		return DateData{}, nil
	case ActionFileUpload:
		return FileUploadData{}, nil
	case ActionDocument:
		return DocumentData{}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}

// Validate checks the structural invariants of an action.
func (a Action) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("action %s: unknown type %q", a.ID, a.Type)
	}
	if a.Data != nil && a.Data.ActionType() != a.Type {
		return fmt.Errorf("action %s: %s data on %s action", a.ID, a.Data.ActionType(), a.Type)
	}
	if a.Completed != (a.CompletedAt != nil && a.CompletedBy != nil) {
		return fmt.Errorf("action %s: completion fields out of sync", a.ID)
	}
	return nil
}

// Info returns the info payload, or the zero value for other types.
func (a Action) Info() InfoData {
	if d, ok := a.Data.(InfoData); ok {
		return d
	}
	return InfoData{}
}

func (a *Action) MarkCompleted(by, at string) {
	a.Completed = true
	a.CompletedAt = &at
	a.CompletedBy = &by
}

func (a *Action) MarkIncomplete() {
	a.Completed = false
	a.CompletedAt = nil
	a.CompletedBy = nil
}

// Clone returns a copy that shares no slices with a.
func (a Action) Clone() Action {
	out := a
	if a.CompletedAt != nil {
		v := *a.CompletedAt
		out.CompletedAt = &v
	}
	if a.CompletedBy != nil {
		v := *a.CompletedBy
		out.CompletedBy = &v
	}
	if a.Attachments != nil {
		out.Attachments = append([]Attachment(nil), a.Attachments...)
	}
	switch d := a.Data.(type) {
	case InfoData:
		d.FileURLs = append([]string(nil), d.FileURLs...)
		out.Data = d
	case FileUploadData:
		d.AllowedTypes = append([]string(nil), d.AllowedTypes...)
		out.Data = d
	case DocumentData:
		fields := make([]Field, len(d.Steps))
		for i, f := range d.Steps {
			f.Options = append([]string(nil), f.Options...)
			fields[i] = f
		}
		d.Steps = fields
		out.Data = d
	}
	return out
}

type actionJSON struct {
	ID          string          `json:"id"`
	Type        ActionType      `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Completed   bool            `json:"completed"`
	CompletedAt *string         `json:"completed_at,omitempty"`
	CompletedBy *string         `json:"completed_by,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if a.Data != nil {
		raw, err := json.Marshal(a.Data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	if a.StepNumber > 0 {
		fields["step_number"] = json.RawMessage(fmt.Sprintf("%d", a.StepNumber))
	}
	wire := actionJSON{
		ID:          a.ID,
		Type:        a.Type,
		Title:       a.Title,
		Description: a.Description,
		Completed:   a.Completed,
		CompletedAt: a.CompletedAt,
		CompletedBy: a.CompletedBy,
		Attachments: a.Attachments,
	}
	if len(fields) > 0 {
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		wire.Data = data
	}
	return json.Marshal(wire)
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var wire actionJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	out := Action{
		ID:          wire.ID,
		Type:        wire.Type,
		Title:       wire.Title,
		Description: wire.Description,
		Completed:   wire.Completed,
		CompletedAt: wire.CompletedAt,
		CompletedBy: wire.CompletedBy,
		Attachments: wire.Attachments,
	}
	if len(wire.Data) > 0 && string(wire.Data) != "null" {
		var step struct {
			StepNumber int `json:"step_number"`
		}
		if err := json.Unmarshal(wire.Data, &step); err != nil {
			return fmt.Errorf("action %s data: %w", wire.ID, err)
		}
		out.StepNumber = step.StepNumber
		data, err := decodeActionData(wire.Type, wire.Data)
		if err != nil {
			return fmt.Errorf("action %s data: %w", wire.ID, err)
		}
		out.Data = data
	} else if wire.Type.Valid() {
		out.Data, _ = NewActionData(wire.Type)
	}
	*a = out
	return nil
}

func decodeActionData(t ActionType, raw json.RawMessage) (ActionData, error) {
	switch t {
	case ActionInfo:
		var d InfoData
		err := json.Unmarshal(raw, &d)
		return d, err
	case ActionText:
		var d TextData
		err := json.Unmarshal(raw, &d)
		return d, err
	case ActionLongText:
		var d LongTextData
		err := json.Unmarshal(raw, &d)
		return d, err
	case ActionDate:
		var d DateData
		err := json.Unmarshal(raw, &d)
		return d, err
	case ActionFileUpload:
		var d FileUploadData
		err := json.Unmarshal(raw, &d)
		return d, err
	case ActionDocument:
		var d DocumentData
		err := json.Unmarshal(raw, &d)
		return d, err
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}
