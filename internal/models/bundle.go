package models

import (
	"bytes"
	"encoding/json"
)

// Content formats understood by bundle items
const (
	ContentFormatString = "string"
	ContentFormatBase64 = "base64"
	ContentFormatJSON   = "json"
)

// Bundle is a declarative document describing request interceptions
type Bundle struct {
	ID      string       `json:"id,omitempty" yaml:"id,omitempty"`
	Comment string       `json:"comment,omitempty" yaml:"comment,omitempty"`
	Version int          `json:"version,omitempty" yaml:"version,omitempty"`
	Items   []BundleItem `json:"items" yaml:"items"`
}

// BundleItem is the declarative form of a match rule
type BundleItem struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
	Version Scalar `json:"version,omitempty" yaml:"version,omitempty"`

	Method      string `json:"method,omitempty" yaml:"method,omitempty"`
	URI         string `json:"uri" yaml:"uri"`
	IgnorePath  bool   `json:"ignorePath,omitempty" yaml:"ignorePath,omitempty"`
	IgnoreQuery bool   `json:"ignoreQuery,omitempty" yaml:"ignoreQuery,omitempty"`
	Priority    *int   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status      Scalar `json:"status,omitempty" yaml:"status,omitempty"`

	RequestHeaders  map[string][]string `json:"requestHeaders,omitempty" yaml:"requestHeaders,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty" yaml:"responseHeaders,omitempty"`
	ContentHeaders  map[string][]string `json:"contentHeaders,omitempty" yaml:"contentHeaders,omitempty"`

	ContentFormat string `json:"contentFormat,omitempty" yaml:"contentFormat,omitempty"`
	ContentJSON   any    `json:"contentJson,omitempty" yaml:"contentJson,omitempty"`
	ContentString string `json:"contentString,omitempty" yaml:"contentString,omitempty"`

	TemplateValues map[string]string `json:"templateValues,omitempty" yaml:"templateValues,omitempty"`

	// Conditions are ANDed into the rule predicate
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	// Match is a boolean expression over the request
	Match string `json:"match,omitempty" yaml:"match,omitempty"`

	Skip bool `json:"skip,omitempty" yaml:"skip,omitempty"`
}

// ItemID returns the item id or UnknownItemID
func (b *BundleItem) ItemID() string {
	if b.ID == "" {
		return UnknownItemID
	}
	return b.ID
}

// Scalar is a string field that documents may also write as a number, as in
// "status": 404 or "status": "NotFound"
type Scalar string

// UnmarshalJSON accepts a JSON string or number
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Scalar(v)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Scalar(n.String())
	return nil
}
