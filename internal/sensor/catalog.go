package sensor

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

//go:embed catalog.cue
var defaultCatalogCUE string

// Catalog is an immutable sensor catalog. Safe for concurrent use.
type Catalog struct {
	types      []Type
	fields     map[Type][]string
	authorized []string
	allowed    map[string]struct{}
	ph         Range
	examples   map[string]float64
}

// Types returns the sensor types in declaration order.
func (c *Catalog) Types() []Type {
	out := make([]Type, len(c.types))
	copy(out, c.types)
	return out
}

// Fields returns the required fields of t in check order.
func (c *Catalog) Fields(t Type) ([]string, bool) {
	f, ok := c.fields[t]
	if !ok {
		return nil, false
	}
	out := make([]string, len(f))
	copy(out, f)
	return out, true
}

// IsAuthorized reports whether id is on the allow-list.
// Comparison is exact; "soil_01" is not "Soil_01".
func (c *Catalog) IsAuthorized(id string) bool {
	_, ok := c.allowed[id]
	return ok
}

// Authorized returns the allow-list in declaration order.
func (c *Catalog) Authorized() []string {
	out := make([]string, len(c.authorized))
	copy(out, c.authorized)
	return out
}

// PHRange returns the accepted pH band.
func (c *Catalog) PHRange() Range {
	return c.ph
}

// Example returns an example payload for t. Fields without a configured
// example, or whose example is zero, get DefaultExampleValue.
func (c *Catalog) Example(t Type) (map[string]any, bool) {
	fields, ok := c.fields[t]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v := c.examples[f]; v != 0 {
			out[f] = v
			continue
		}
		out[f] = DefaultExampleValue
	}
	return out, true
}

// Default returns the embedded catalog.
// Panics if the embedded source is invalid, which is a build defect.
func Default() *Catalog {
	c, err := CompileCatalog(defaultCatalogCUE)
	if err != nil {
		panic(fmt.Sprintf("embedded sensor catalog is invalid: %v", err))
	}
	return c
}

// CompileCatalog builds a catalog from CUE source text.
func CompileCatalog(src string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("catalog.cue"))
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return decodeCatalog(v)
}

// LoadCatalog loads a catalog from a directory of .cue files.
func LoadCatalog(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return decodeCatalog(v)
}

// FindCUEFiles walks dir and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func decodeCatalog(v cue.Value) (*Catalog, error) {
	c := &Catalog{
		fields:   make(map[Type][]string),
		allowed:  make(map[string]struct{}),
		examples: make(map[string]float64),
	}

	if err := decodeTypes(v, c); err != nil {
		return nil, err
	}
	if err := decodeAuthorized(v, c); err != nil {
		return nil, err
	}
	if err := decodePHRange(v, c); err != nil {
		return nil, err
	}
	if err := decodeExamples(v, c); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeTypes(v cue.Value, c *Catalog) error {
	typesVal := v.LookupPath(cue.ParsePath("sensor_type"))
	if !typesVal.Exists() {
		return &LoadError{Code: ErrCodeNoTypes, Message: "sensor_type is required", Pos: v.Pos()}
	}
	iter, err := typesVal.Fields()
	if err != nil {
		return &LoadError{Code: ErrCodeNoTypes, Message: err.Error(), Pos: typesVal.Pos()}
	}

	for iter.Next() {
		name := Type(iter.Label())
		fieldsVal := iter.Value().LookupPath(cue.ParsePath("fields"))
		if !fieldsVal.Exists() {
			return &LoadError{Code: ErrCodeNoFields, Message: fmt.Sprintf("sensor_type.%s: fields is required", name), Pos: iter.Value().Pos()}
		}
		list, err := stringList(fieldsVal)
		if err != nil {
			return &LoadError{Code: ErrCodeNoFields, Message: fmt.Sprintf("sensor_type.%s.fields: %v", name, err), Pos: fieldsVal.Pos()}
		}
		if len(list) == 0 {
			return &LoadError{Code: ErrCodeNoFields, Message: fmt.Sprintf("sensor_type.%s: at least one field is required", name), Pos: fieldsVal.Pos()}
		}
		seen := make(map[string]bool, len(list))
		for _, f := range list {
			if seen[f] {
				return &LoadError{Code: ErrCodeDuplicate, Message: fmt.Sprintf("sensor_type.%s: duplicate field %q", name, f), Pos: fieldsVal.Pos()}
			}
			seen[f] = true
		}
		c.types = append(c.types, name)
		c.fields[name] = list
	}

	if len(c.types) == 0 {
		return &LoadError{Code: ErrCodeNoTypes, Message: "no sensor types defined", Pos: typesVal.Pos()}
	}
	return nil
}

func decodeAuthorized(v cue.Value, c *Catalog) error {
	authVal := v.LookupPath(cue.ParsePath("authorized"))
	if !authVal.Exists() {
		return &LoadError{Code: ErrCodeNoSensors, Message: "authorized is required", Pos: v.Pos()}
	}
	list, err := stringList(authVal)
	if err != nil {
		return &LoadError{Code: ErrCodeNoSensors, Message: fmt.Sprintf("authorized: %v", err), Pos: authVal.Pos()}
	}
	for _, id := range list {
		if _, dup := c.allowed[id]; dup {
			return &LoadError{Code: ErrCodeDuplicate, Message: fmt.Sprintf("authorized: duplicate sensor %q", id), Pos: authVal.Pos()}
		}
		c.allowed[id] = struct{}{}
		c.authorized = append(c.authorized, id)
	}
	return nil
}

func decodePHRange(v cue.Value, c *Catalog) error {
	rangeVal := v.LookupPath(cue.ParsePath("ph_range"))
	if !rangeVal.Exists() {
		return &LoadError{Code: ErrCodeBadRange, Message: "ph_range is required", Pos: v.Pos()}
	}
	lo, err := rangeVal.LookupPath(cue.ParsePath("min")).Float64()
	if err != nil {
		return &LoadError{Code: ErrCodeBadRange, Message: fmt.Sprintf("ph_range.min: %v", err), Pos: rangeVal.Pos()}
	}
	hi, err := rangeVal.LookupPath(cue.ParsePath("max")).Float64()
	if err != nil {
		return &LoadError{Code: ErrCodeBadRange, Message: fmt.Sprintf("ph_range.max: %v", err), Pos: rangeVal.Pos()}
	}
	if lo > hi {
		return &LoadError{Code: ErrCodeBadRange, Message: fmt.Sprintf("ph_range: min %v exceeds max %v", lo, hi), Pos: rangeVal.Pos()}
	}
	c.ph = Range{Min: lo, Max: hi}
	return nil
}

// examples is optional.
func decodeExamples(v cue.Value, c *Catalog) error {
	exVal := v.LookupPath(cue.ParsePath("examples"))
	if !exVal.Exists() {
		return nil
	}
	iter, err := exVal.Fields()
	if err != nil {
		return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("examples: %v", err), Pos: exVal.Pos()}
	}
	for iter.Next() {
		f, err := iter.Value().Float64()
		if err != nil {
			return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("examples.%s: %v", iter.Label(), err), Pos: iter.Value().Pos()}
		}
		c.examples[iter.Label()] = f
	}
	return nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Summary is the JSON-friendly view of a catalog served to dashboards.
type Summary struct {
	Types      []TypeSummary `json:"types"`
	Authorized []string      `json:"authorized"`
	PHRange    Range         `json:"ph_range"`
}

// TypeSummary describes one sensor type.
type TypeSummary struct {
	Name    Type           `json:"name"`
	Fields  []string       `json:"fields"`
	Example map[string]any `json:"example"`
}

// Summarize returns the catalog as plain data.
func (c *Catalog) Summarize() Summary {
	s := Summary{
		Types:      make([]TypeSummary, 0, len(c.types)),
		Authorized: c.Authorized(),
		PHRange:    c.ph,
	}
	for _, t := range c.types {
		fields, _ := c.Fields(t)
		ex, _ := c.Example(t)
		s.Types = append(s.Types, TypeSummary{Name: t, Fields: fields, Example: ex})
	}
	return s
}

// SortedTypes returns type names sorted lexically, for stable help text.
func (c *Catalog) SortedTypes() []string {
	out := make([]string, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// LoadError is a catalog loading failure with a stable code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for catalog loading.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"

	ErrCodeNoTypes   = "E101" // sensor_type missing or empty
	ErrCodeNoFields  = "E102" // a type declares no fields
	ErrCodeNoSensors = "E103" // authorized missing
	ErrCodeBadRange  = "E104" // ph_range missing or inverted
	ErrCodeDuplicate = "E105" // duplicate field or sensor id
)
