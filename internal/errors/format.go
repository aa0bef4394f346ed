package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// contextLabels are the details shown on their own line by FormatForCLI, in
// this order. Other details follow sorted by key.
var contextLabels = []struct{ key, label string }{
	{"source", "Source"},
	{"path", "File"},
	{"index", "Entry"},
	{"tier", "Tier"},
}

// asKBError returns the first KBError in err's chain, or err wrapped as an
// internal error.
func asKBError(err error) *KBError {
	var ke *KBError
	if stderrors.As(err, &ke) {
		return ke
	}
	return Wrap(ErrCodeInternal, err)
}

// causeText returns the cause message unless the message already carries it.
func causeText(ke *KBError) string {
	if ke.Cause == nil {
		return ""
	}
	c := ke.Cause.Error()
	if strings.Contains(ke.Message, c) {
		return ""
	}
	return c
}

// FormatForCLI renders err for the terminal:
//
//	Error: entry 3 is malformed: field "position": want number, got string
//	  Source: manual-001.json
//	  Entry: 3
//	  Hint: ...
//	  Code: ERR_412_ELEMENT_MALFORMED
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ke := asKBError(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ke.Message)

	shown := make(map[string]bool, len(contextLabels))
	for _, cl := range contextLabels {
		if v, ok := ke.Details[cl.key]; ok && v != "" {
			fmt.Fprintf(&sb, "  %s: %s\n", cl.label, v)
			shown[cl.key] = true
		}
	}
	for _, k := range sortedKeys(ke.Details) {
		if !shown[k] {
			fmt.Fprintf(&sb, "  %s: %s\n", k, ke.Details[k])
		}
	}
	if c := causeText(ke); c != "" {
		fmt.Fprintf(&sb, "  Cause: %s\n", c)
	}
	if ke.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ke.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ke.Code)
	return sb.String()
}

// errorJSON is the machine-readable form of a KBError. Entry index and tier
// are lifted out of the details so consumers need not parse strings.
type errorJSON struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   Category          `json:"category"`
	Severity   Severity          `json:"severity"`
	Retryable  bool              `json:"retryable"`
	Source     string            `json:"source,omitempty"`
	Entry      *int              `json:"entry,omitempty"`
	Tier       string            `json:"tier,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
}

// FormatJSON encodes err as a JSON object.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	ke := asKBError(err)

	out := errorJSON{
		Code:       ke.Code,
		Message:    ke.Message,
		Category:   ke.Category,
		Severity:   ke.Severity,
		Retryable:  ke.Retryable,
		Suggestion: ke.Suggestion,
	}
	if ke.Cause != nil {
		out.Cause = ke.Cause.Error()
	}
	for k, v := range ke.Details {
		switch k {
		case "source":
			out.Source = v
		case "tier":
			out.Tier = v
		case "index":
			if n, err := strconv.Atoi(v); err == nil {
				out.Entry = &n
				continue
			}
			fallthrough
		default:
			if out.Details == nil {
				out.Details = make(map[string]string)
			}
			out.Details[k] = v
		}
	}
	return json.Marshal(out)
}

// FormatForLog returns slog attributes for err. Source, entry index and tier
// use the same keys as the ingest and search log events so they can be
// filtered together with `amankb logs --filter`.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	var ke *KBError
	if !stderrors.As(err, &ke) {
		return map[string]any{"error": err.Error()}
	}

	fields := map[string]any{
		"error_code": ke.Code,
		"message":    ke.Message,
		"severity":   string(ke.Severity),
	}
	if ke.Retryable {
		fields["retryable"] = true
	}
	if ke.Cause != nil {
		fields["cause"] = ke.Cause.Error()
	}
	for k, v := range ke.Details {
		switch k {
		case "source":
			fields["source_id"] = v
		case "index":
			if n, err := strconv.Atoi(v); err == nil {
				fields["entry_index"] = n
			} else {
				fields["entry_index"] = v
			}
		case "tier":
			fields["tier"] = v
		default:
			fields["detail_"+k] = v
		}
	}
	return fields
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaxMessageRunes bounds diagnostic messages carried in progress events.
const MaxMessageRunes = 200

// Truncate shortens msg to at most max runes, marking the cut with "…".
func Truncate(msg string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(msg)
	if len(r) <= max {
		return msg
	}
	return string(r[:max-1]) + "…"
}
