// Package frontend reads design descriptions into the IR.
//
// A design file is YAML with three optional top-level lists:
//
//	locks:     pre-existing locks {tile: [col, row], id, name}
//	fifos:     {name, producer: [col, row], consumers: [[col, row], ...],
//	            depth, elem: {shape: [...], type}}
//	cores:     {tile: [col, row], program: [statement, ...]}
//
// A statement is a single-key mapping: const, add, mul, call, acquire,
// release, access or for. Operands are integer literals or names bound by
// an earlier statement's "as" key or an enclosing loop's "iv".
package frontend

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"fifolower/internal/diag"
	"fifolower/internal/ir"
)

// LoadConfig lists the design files to read. Files are merged into one
// design; every file's locks and fifos are declared before any core is
// built, so programs may use fifos declared in another file.
type LoadConfig struct {
	Sources []string
}

// LoadDesign reads and merges the configured files.
func LoadDesign(cfg LoadConfig) (*ir.Design, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("no design files were provided")
	}
	files := make([]source, 0, len(cfg.Sources))
	for _, path := range cfg.Sources {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading design %s", path)
		}
		files = append(files, source{name: path, data: data})
	}
	return load(files)
}

// ParseDesign reads a single in-memory design file. name is used in
// diagnostics.
func ParseDesign(name string, data []byte) (*ir.Design, error) {
	return load([]source{{name: name, data: data}})
}

type source struct {
	name string
	data []byte
}

type fileDecl struct {
	Locks []yaml.Node `yaml:"locks"`
	Fifos []yaml.Node `yaml:"fifos"`
	Cores []yaml.Node `yaml:"cores"`
}

type lockDecl struct {
	Tile []int  `yaml:"tile"`
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

type fifoDecl struct {
	Name      string   `yaml:"name"`
	Producer  []int    `yaml:"producer"`
	Consumers [][]int  `yaml:"consumers"`
	Depth     int      `yaml:"depth"`
	Elem      elemDecl `yaml:"elem"`
}

type elemDecl struct {
	Shape []int  `yaml:"shape"`
	Type  string `yaml:"type"`
}

type coreDecl struct {
	Tile    []int     `yaml:"tile"`
	Program yaml.Node `yaml:"program"`
}

type stmtDecl struct {
	As      string      `yaml:"as"`
	Value   int64       `yaml:"value"`
	Lhs     yaml.Node   `yaml:"lhs"`
	Rhs     yaml.Node   `yaml:"rhs"`
	Callee  string      `yaml:"callee"`
	Args    []yaml.Node `yaml:"args"`
	Fifo    string      `yaml:"fifo"`
	Port    string      `yaml:"port"`
	Count   int         `yaml:"count"`
	Subview string      `yaml:"subview"`
	Index   int         `yaml:"index"`
	IV      string      `yaml:"iv"`
	Lower   yaml.Node   `yaml:"lower"`
	Upper   yaml.Node   `yaml:"upper"`
	Step    yaml.Node   `yaml:"step"`
	Body    yaml.Node   `yaml:"body"`
}

type parsedFile struct {
	name string
	decl fileDecl
}

func load(files []source) (*ir.Design, error) {
	design := ir.NewDesign()
	parsed := make([]parsedFile, 0, len(files))
	for _, f := range files {
		var decl fileDecl
		if err := yaml.Unmarshal(f.data, &decl); err != nil {
			return nil, errors.Wrapf(err, "parsing design %s", f.name)
		}
		parsed = append(parsed, parsedFile{name: f.name, decl: decl})
	}
	for _, pf := range parsed {
		ld := &loader{file: pf.name, design: design}
		for i := range pf.decl.Locks {
			if err := ld.lock(&pf.decl.Locks[i]); err != nil {
				return nil, err
			}
		}
		for i := range pf.decl.Fifos {
			if err := ld.fifo(&pf.decl.Fifos[i]); err != nil {
				return nil, err
			}
		}
	}
	for _, pf := range parsed {
		ld := &loader{file: pf.name, design: design}
		for i := range pf.decl.Cores {
			if err := ld.core(&pf.decl.Cores[i]); err != nil {
				return nil, err
			}
		}
	}
	klog.V(1).Infof("loaded %d fifo(s) and %d core(s) from %d file(s)", len(design.Fifos), len(design.Cores), len(files))
	return design, nil
}

type loader struct {
	file   string
	design *ir.Design
}

func (ld *loader) pos(n *yaml.Node) diag.Pos {
	return diag.Pos{File: ld.file, Line: n.Line, Column: n.Column}
}

func (ld *loader) errorf(n *yaml.Node, format string, args ...any) error {
	return errors.Errorf("%s: %s", ld.pos(n), fmt.Sprintf(format, args...))
}

func (ld *loader) tile(n *yaml.Node, coord []int) (*ir.Tile, error) {
	if len(coord) != 2 {
		return nil, ld.errorf(n, "tile coordinates must be [col, row]; got %v", coord)
	}
	t := ld.design.Tile(coord[0], coord[1])
	if !t.Source.IsValid() {
		t.Source = ld.pos(n)
	}
	return t, nil
}

func (ld *loader) lock(n *yaml.Node) error {
	var decl lockDecl
	if err := n.Decode(&decl); err != nil {
		return ld.errorf(n, "bad lock: %v", err)
	}
	t, err := ld.tile(n, decl.Tile)
	if err != nil {
		return err
	}
	ld.design.AddLock(t, decl.ID, decl.Name)
	return nil
}

func (ld *loader) fifo(n *yaml.Node) error {
	var decl fifoDecl
	if err := n.Decode(&decl); err != nil {
		return ld.errorf(n, "bad object fifo: %v", err)
	}
	if decl.Name == "" {
		return ld.errorf(n, "object fifo needs a name")
	}
	producer, err := ld.tile(n, decl.Producer)
	if err != nil {
		return err
	}
	consumers := make([]*ir.Tile, 0, len(decl.Consumers))
	for _, c := range decl.Consumers {
		t, err := ld.tile(n, c)
		if err != nil {
			return err
		}
		consumers = append(consumers, t)
	}
	elem := &ir.ElemType{Shape: decl.Elem.Shape, Elem: decl.Elem.Type}
	if elem.Elem == "" {
		elem.Elem = "i32"
	}
	fifo := ld.design.AddFifo(decl.Name, producer, consumers, decl.Depth, elem)
	fifo.Source = ld.pos(n)
	return nil
}

func (ld *loader) core(n *yaml.Node) error {
	var decl coreDecl
	if err := n.Decode(&decl); err != nil {
		return ld.errorf(n, "bad core: %v", err)
	}
	t, err := ld.tile(n, decl.Tile)
	if err != nil {
		return err
	}
	core := ld.design.AddCore(t)
	core.Source = ld.pos(n)
	return ld.block(ld.design.At(core.Body), newScope(nil), &decl.Program)
}

// scope binds names to values. Loop bodies open a child scope.
type scope struct {
	parent *scope
	names  map[string]*ir.Value
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]*ir.Value)}
}

func (s *scope) lookup(name string) *ir.Value {
	for ; s != nil; s = s.parent {
		if v, ok := s.names[name]; ok {
			return v
		}
	}
	return nil
}

func (s *scope) bind(name string, v *ir.Value) {
	if name != "" && v != nil {
		s.names[name] = v
	}
}

func (ld *loader) block(b *ir.BlockBuilder, sc *scope, n *yaml.Node) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return ld.errorf(n, "program must be a list of statements")
	}
	for _, stmt := range n.Content {
		if err := ld.statement(b, sc, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (ld *loader) statement(b *ir.BlockBuilder, sc *scope, n *yaml.Node) error {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return ld.errorf(n, "statement must be a single-key mapping")
	}
	kind := n.Content[0].Value
	var s stmtDecl
	if err := n.Content[1].Decode(&s); err != nil {
		return ld.errorf(n, "bad %s statement: %v", kind, err)
	}
	b.SetPos(ld.pos(n))

	switch kind {
	case "const":
		sc.bind(s.As, b.Const(s.Value))
	case "add", "mul":
		lhs, err := ld.operand(b, sc, &s.Lhs)
		if err != nil {
			return err
		}
		rhs, err := ld.operand(b, sc, &s.Rhs)
		if err != nil {
			return err
		}
		op := ir.AddI
		if kind == "mul" {
			op = ir.MulI
		}
		sc.bind(s.As, b.Arith(op, lhs, rhs))
	case "call":
		if s.Callee == "" {
			return ld.errorf(n, "call needs a callee")
		}
		args := make([]*ir.Value, 0, len(s.Args))
		for i := range s.Args {
			v, err := ld.operand(b, sc, &s.Args[i])
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		sc.bind(s.As, b.Call(s.Callee, s.As != "", args...))
	case "acquire":
		fifo, port, err := ld.fifoPort(n, s)
		if err != nil {
			return err
		}
		sc.bind(s.As, b.Acquire(fifo, port, s.Count))
	case "release":
		fifo, port, err := ld.fifoPort(n, s)
		if err != nil {
			return err
		}
		b.Release(fifo, port, s.Count)
	case "access":
		sv := sc.lookup(s.Subview)
		if sv == nil {
			return ld.errorf(n, "undefined subview %q", s.Subview)
		}
		sc.bind(s.As, b.Access(sv, s.Index))
	case "for":
		return ld.loop(b, sc, n, s)
	default:
		return ld.errorf(n, "unknown statement %q", kind)
	}
	return nil
}

func (ld *loader) loop(b *ir.BlockBuilder, sc *scope, n *yaml.Node, s stmtDecl) error {
	lower, err := ld.operand(b, sc, &s.Lower)
	if err != nil {
		return err
	}
	upper, err := ld.operand(b, sc, &s.Upper)
	if err != nil {
		return err
	}
	var step *ir.Value
	if s.Step.Kind == 0 {
		step = b.Const(1)
	} else if step, err = ld.operand(b, sc, &s.Step); err != nil {
		return err
	}
	var bodyErr error
	b.For(lower, upper, step, func(body *ir.BlockBuilder, iv *ir.Value) {
		inner := newScope(sc)
		inner.bind(s.IV, iv)
		bodyErr = ld.block(body, inner, &s.Body)
	})
	return bodyErr
}

func (ld *loader) fifoPort(n *yaml.Node, s stmtDecl) (*ir.ObjectFifo, ir.Port, error) {
	fifo := ld.design.LookupFifo(s.Fifo)
	if fifo == nil {
		return nil, 0, ld.errorf(n, "undefined object fifo %q", s.Fifo)
	}
	switch s.Port {
	case "produce":
		return fifo, ir.Produce, nil
	case "consume":
		return fifo, ir.Consume, nil
	}
	return nil, 0, ld.errorf(n, "port must be produce or consume; got %q", s.Port)
}

// operand turns an integer literal into a constant and resolves a name
// through sc.
func (ld *loader) operand(b *ir.BlockBuilder, sc *scope, n *yaml.Node) (*ir.Value, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, ld.errorf(n, "operand must be an integer or a name")
	}
	if n.Tag == "!!int" {
		var v int64
		if err := n.Decode(&v); err != nil {
			return nil, ld.errorf(n, "bad integer %q: %v", n.Value, err)
		}
		return b.Const(v), nil
	}
	v := sc.lookup(n.Value)
	if v == nil {
		return nil, ld.errorf(n, "undefined name %q", n.Value)
	}
	return v, nil
}
