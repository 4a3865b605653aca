// Package compiler turns CUE declarations into scripts and strategies.
//
// A definitions directory declares scripts and strategies side by side:
//
//	script: FlipAlgorithm: {
//		role: "algorithm"
//		file: "scripts/flip.star"
//	}
//
//	strategy: "flip-all": {
//		scheduler:  "OneShot"
//		algorithms: ["FlipAlgorithm"]
//		scoring:    ["OnesGain"]
//		policies:   ["Cheap"]
//	}
package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"

	"github.com/roach88/bitstrat/internal/ir"
)

// CompileScript parses a CUE value into a ScriptRef. The script name is
// the value's label. A relative file path is resolved against baseDir.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`script: Flip: { role: "algorithm", source: "..." }`)
//	s, err := CompileScript(v.LookupPath(cue.ParsePath("script.Flip")), ".")
func CompileScript(v cue.Value, baseDir string) (*ir.ScriptRef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &ir.ScriptRef{Name: label(v)}

	roleStr, err := requiredString(v, "role")
	if err != nil {
		return nil, err
	}
	role, subTag, err := ir.ParseRole(roleStr)
	if err != nil {
		return nil, &CompileError{Field: "role", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("role")).Pos()}
	}
	s.Role = role
	s.SubTag = subTag

	tag, err := optionalString(v, "tag")
	if err != nil {
		return nil, err
	}
	if tag != "" {
		s.SubTag = tag
	}

	source, err := optionalString(v, "source")
	if err != nil {
		return nil, err
	}
	file, err := optionalString(v, "file")
	if err != nil {
		return nil, err
	}
	switch {
	case source != "" && file != "":
		return nil, &CompileError{Field: "source", Message: "set either source or file, not both", Pos: v.Pos()}
	case source == "" && file == "":
		return nil, &CompileError{Field: "source", Message: "source or file is required", Pos: v.Pos()}
	case file != "":
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &CompileError{
				Field:   "file",
				Message: fmt.Sprintf("reading script file: %v", err),
				Pos:     v.LookupPath(cue.ParsePath("file")).Pos(),
			}
		}
		s.Source = string(data)
		s.Path = path
	default:
		s.Source = source
	}

	vetoVal := v.LookupPath(cue.ParsePath("veto"))
	if vetoVal.Exists() {
		veto, err := vetoVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if veto && s.Role != ir.RoleScoring {
			return nil, &CompileError{Field: "veto", Message: "only scoring scripts can veto", Pos: vetoVal.Pos()}
		}
		s.VetoCapable = veto
	}

	return s, nil
}

func label(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	sel := sels[len(sels)-1]
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	out := []string{}
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return out, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}
