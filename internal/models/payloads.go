package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// These structs define the JSON payloads exchanged with the job queue, the
// HTTP API and the delivery workflow.

// Quantity is a requested count as order producers send it: a JSON number
// or a numeric string. Anything else is kept and later rejected by Int.
type Quantity struct {
	raw string
}

// Qty builds a Quantity from an int.
func Qty(n int) Quantity { return Quantity{raw: strconv.Itoa(n)} }

func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		q.raw = s
		return nil
	}
	if string(b) == "null" {
		q.raw = ""
		return nil
	}
	q.raw = string(b)
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if n, ok := q.Int(); ok {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(q.raw)
}

// Int returns the count when it is a positive whole number. "5", "5.0" and 5
// are all 5.
func (q Quantity) Int() (int, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(q.raw), ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f != math.Trunc(f) || f <= 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func (q Quantity) String() string { return q.raw }

// OrderLine is one normalized row of an order.
type OrderLine struct {
	Article  string   `json:"article"`
	Size     string   `json:"size"`
	Quantity Quantity `json:"quantity"`
}

// OrderRequest is the inbound job payload.
type OrderRequest struct {
	OrderLines      []OrderLine     `json:"orderLines"`
	CallbackContext json.RawMessage `json:"callbackContext,omitempty"`
}

// Shortage is the unmet part of one order line.
type Shortage struct {
	Article string `json:"article"`
	Size    string `json:"size"`
	Amount  int    `json:"amount"`
}

// LineOutcome records what happened to one order line.
type LineOutcome struct {
	Article   string `json:"article"`
	Size      string `json:"size"`
	Requested int    `json:"requested"`
	Sent      int    `json:"sent"`
	Shortage  int    `json:"shortage"`
}

// FulfillmentResult is the outcome of one fulfillment run. ArtifactPath is
// empty when no page was cut; callers must check both it and Shortages.
type FulfillmentResult struct {
	ArtifactPath string        `json:"artifactPath,omitempty"`
	ArtifactURI  string        `json:"artifactUri,omitempty"`
	PageCount    int           `json:"pageCount"`
	Shortages    []Shortage    `json:"shortages,omitempty"`
	ShortageText string        `json:"shortageText,omitempty"`
	Lines        []LineOutcome `json:"lines"`
	SkippedLines int           `json:"skippedLines"`
}

// SplitOutput is one per-variant document written by the splitter.
type SplitOutput struct {
	Name    string `json:"name"`
	Article string `json:"article"`
	Size    string `json:"size"`
	Color   string `json:"color"`
	Pages   int    `json:"pages"`
}

// SplitResult is the outcome of splitting one document.
type SplitResult struct {
	Source     string        `json:"source"`
	Outputs    []SplitOutput `json:"outputs"`
	Skipped    int           `json:"skipped"`
	TotalPages int           `json:"totalPages"`
}

// PurgeStats summarizes one purge sweep.
type PurgeStats struct {
	FilesScanned  int      `json:"filesScanned"`
	FilesModified int      `json:"filesModified"`
	FilesDeleted  int      `json:"filesDeleted"`
	PagesScanned  int      `json:"pagesScanned"`
	PagesDeleted  int      `json:"pagesDeleted"`
	Details       []string `json:"details,omitempty"`
}

// ReturnResult summarizes the return of previously dispensed units.
// Unsorted names the inventory document holding the returned pages whose
// metadata could not be read.
type ReturnResult struct {
	CodesFound    int         `json:"codesFound"`
	CodesReleased int         `json:"codesReleased"`
	Split         SplitResult `json:"split"`
	Unsorted      string      `json:"unsorted,omitempty"`
}

// ImportResult summarizes an exception-code import.
type ImportResult struct {
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Unique     int `json:"unique"`
}

// UploadResponse is returned when a document is stored in inventory.
type UploadResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Pages int    `json:"pages"`
}

// JobResult is handed to the delivery layer when a job finishes.
type JobResult struct {
	JobID           string          `json:"jobId"`
	Status          string          `json:"status"`
	ArtifactPath    string          `json:"artifactPath,omitempty"`
	ArtifactURI     string          `json:"artifactUri,omitempty"`
	ShortageText    string          `json:"shortageText,omitempty"`
	Error           string          `json:"error,omitempty"`
	CallbackContext json.RawMessage `json:"callbackContext,omitempty"`
}
