// Package errkind defines the error taxonomy shared by the engine, its storage
// backends and its capability clients.
//
// Every failure that crosses a package boundary is wrapped in an *Error carrying
// a Kind. Callers branch on the kind with errors.Is against the exported
// sentinels (errors.Is(err, errkind.ErrExtraction)) or with KindOf.
package errkind

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error.
type Kind uint8

const (
	Other Kind = iota
	Configuration
	Extraction
	Embedding
	Rerank
	ReferentialIntegrity
	Storage
	SearchUnavailable
	Invalid
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration error"
	case Extraction:
		return "extraction error"
	case Embedding:
		return "embedding error"
	case Rerank:
		return "rerank error"
	case ReferentialIntegrity:
		return "referential integrity error"
	case Storage:
		return "storage error"
	case SearchUnavailable:
		return "search unavailable"
	case Invalid:
		return "invalid argument"
	case NotFound:
		return "not found"
	default:
		return "error"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConfiguration        = &Error{Kind: Configuration}
	ErrExtraction           = &Error{Kind: Extraction}
	ErrEmbedding            = &Error{Kind: Embedding}
	ErrRerank               = &Error{Kind: Rerank}
	ErrReferentialIntegrity = &Error{Kind: ReferentialIntegrity}
	ErrStorage              = &Error{Kind: Storage}
	ErrSearchUnavailable    = &Error{Kind: SearchUnavailable}
	ErrInvalid              = &Error{Kind: Invalid}
	ErrNotFound             = &Error{Kind: NotFound}
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "ingest.extract" or "neo4j.CreateEdge".
	Op string
	// Err is the underlying cause, if any.
	Err error
	// Fields carries structured context for logging (ids, keys).
	Fields map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Fields[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A target with an Op
// only matches errors raised by that operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// LogAttrs flattens the error into slog-style key/value pairs.
func (e *Error) LogAttrs() []any {
	attrs := []any{"error_kind", e.Kind.String(), "op", e.Op}
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	if e.Err != nil {
		attrs = append(attrs, "cause", e.Err.Error())
	}
	return attrs
}

// E builds an *Error. A nil cause is allowed.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds an *Error whose cause is a formatted message.
func Ef(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// With returns a copy of e with the given key/value pairs added to Fields.
func (e *Error) With(kv ...any) *Error {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+len(kv)/2)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		cp.Fields[key] = kv[i+1]
	}
	return &cp
}

// Wrap classifies err unless it already carries a kind, in which case it is
// returned unchanged so the innermost classification wins.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	return E(kind, op, err)
}

// KindOf returns the kind of the outermost *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Other
}

// Is reports whether err carries the given kind.
func Is(kind Kind, err error) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// Retryable reports whether an operation failing with err may be attempted
// again. Configuration, integrity and validation failures are permanent.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Configuration, ReferentialIntegrity, Invalid, NotFound:
		return false
	default:
		return err != nil
	}
}
