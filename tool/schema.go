package tool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// ArgumentError lists every problem found while binding raw arguments.
type ArgumentError struct {
	Problems []string
}

func (e *ArgumentError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "invalid arguments"
	}
	return strings.Join(e.Problems, "; ")
}

var (
	schemaReflector = &jsonschema.Reflector{
		Anonymous:                  true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}

	argumentValidator = newArgumentValidator()
)

func newArgumentValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so messages match the advertised schema.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return field.Name
		}
		return name
	})
	return v
}

// SchemaFor reflects the JSON schema advertised for argument struct A.
// Fields tagged `jsonschema:"required"` are listed as required.
func SchemaFor[A any]() *jsonschema.Schema {
	r := schemaReflector
	// The reflector cannot expand an unnamed type in place without a
	// definition to point at.
	if reflect.TypeFor[A]().Name() == "" {
		unnamed := *schemaReflector
		unnamed.ExpandedStruct = false
		r = &unnamed
	}
	schema := r.Reflect(new(A))
	schema.Version = ""
	return schema
}

// BindArguments decodes raw arguments into A and validates it. Unknown keys
// are ignored; type mismatches and failed `validate` constraints are reported
// as an *ArgumentError.
func BindArguments[A any](args map[string]any) (A, error) {
	var out A
	if args == nil {
		args = map[string]any{}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &out,
	})
	if err != nil {
		return out, fmt.Errorf("tool: build argument decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return out, decodeProblems(err)
	}

	if reflect.TypeOf(out).Kind() != reflect.Struct {
		return out, nil
	}
	if err := argumentValidator.Struct(out); err != nil {
		return out, validationProblems(err)
	}
	return out, nil
}

func decodeProblems(err error) *ArgumentError {
	var decodeErr *mapstructure.Error
	if errors.As(err, &decodeErr) {
		return &ArgumentError{Problems: append([]string(nil), decodeErr.Errors...)}
	}
	return &ArgumentError{Problems: []string{err.Error()}}
}

func validationProblems(err error) *ArgumentError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ArgumentError{Problems: []string{err.Error()}}
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		switch fieldErr.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("missing required field %q", fieldErr.Field()))
		default:
			problems = append(problems, fmt.Sprintf("field %q failed %q constraint", fieldErr.Field(), fieldErr.Tag()))
		}
	}
	return &ArgumentError{Problems: problems}
}

// Func is a typed tool handler.
type Func[A any] func(ctx context.Context, args A) (any, error)

// ChunkFunc is a typed split policy producing a tool's incremental payload.
type ChunkFunc[A any] func(ctx context.Context, args A) iter.Seq2[string, error]

// New builds a tool whose arguments bind to A.
func New[A any](name, description string, run Func[A]) Tool {
	return &funcTool[A]{
		desc: Descriptor{
			Name:        name,
			Description: description,
			InputSchema: SchemaFor[A](),
		},
		run: run,
	}
}

// NewChunked builds a tool that also supports incremental delivery. run is
// used for synchronous invocations; chunks drives streamed delivery.
func NewChunked[A any](name, description string, run Func[A], chunks ChunkFunc[A]) Tool {
	t := New(name, description, run).(*funcTool[A])
	t.chunks = chunks
	return t
}

type funcTool[A any] struct {
	desc   Descriptor
	run    Func[A]
	chunks ChunkFunc[A]
}

func (t *funcTool[A]) Descriptor() Descriptor {
	return t.desc
}

func (t *funcTool[A]) Bind(args map[string]any) (Call, error) {
	bound, err := BindArguments[A](args)
	if err != nil {
		return nil, ValidationError(t.desc.Name, err)
	}
	call := boundCall[A]{args: bound, run: t.run}
	if t.chunks != nil {
		return chunkedCall[A]{boundCall: call, chunks: t.chunks}, nil
	}
	return call, nil
}

type boundCall[A any] struct {
	args A
	run  Func[A]
}

func (c boundCall[A]) Run(ctx context.Context) (any, error) {
	if c.run == nil {
		return nil, errors.New("tool has no handler")
	}
	return c.run(ctx, c.args)
}

type chunkedCall[A any] struct {
	boundCall[A]
	chunks ChunkFunc[A]
}

func (c chunkedCall[A]) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return c.chunks(ctx, c.args)
}

var (
	_ Call        = boundCall[struct{}]{}
	_ ChunkedCall = chunkedCall[struct{}]{}
)
