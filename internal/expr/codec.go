package expr

import (
	"encoding/json"
	"fmt"
)

// Wire representation: every node is encoded as an envelope carrying an
// "op" discriminator next to the node payload. Graph nodes and compiled
// domains persist expressions in this form.
const (
	opLiteral = "literal"
	opDot     = "dot"
	opSelf    = "self"
	opSymbol  = "symbol"
	opEquals  = "equals"
	opNot     = "not"
	opCall    = "call"
	opObject  = "object"
	opList    = "list"
	opQuery   = "query"

	predEq  = "eq"
	predAnd = "and"
	predOr  = "or"
)

type envelope struct {
	Op       string          `json:"op"`
	TypeHint string          `json:"type_hint,omitempty"`
	Node     json.RawMessage `json:"node"`
}

// MarshalExpr encodes an expression tree to its wire form.
func MarshalExpr(e Expr) ([]byte, error) {
	env, err := toEnvelope(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalExpr decodes an expression tree from its wire form.
// Unknown discriminators are configuration errors.
func UnmarshalExpr(data []byte) (Expr, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode expression envelope: %w", err)
	}
	return fromEnvelope(env)
}

func toEnvelope(e Expr) (*envelope, error) {
	if e == nil {
		return nil, newConfigError("marshal nil expression")
	}

	var op string
	switch e.(type) {
	case *Literal:
		op = opLiteral
	case *Dot:
		op = opDot
	case *Self:
		op = opSelf
	case *Symbol:
		op = opSymbol
	case *Equals:
		op = opEquals
	case *Not:
		op = opNot
	case *Call:
		op = opCall
	case *Object:
		op = opObject
	case *List:
		op = opList
	case *Query:
		op = opQuery
	default:
		return nil, newConfigError("marshal unknown expression node %T", e)
	}

	node, err := marshalNode(e)
	if err != nil {
		return nil, err
	}
	return &envelope{Op: op, TypeHint: e.Hint(), Node: node}, nil
}

// marshalNode encodes the variant payload. Child expressions and
// predicates are re-encoded as envelopes so the tree stays self-describing.
func marshalNode(e Expr) (json.RawMessage, error) {
	switch n := e.(type) {
	case *Literal:
		return json.Marshal(map[string]any{"value": n.Value})

	case *Dot:
		src, err := toEnvelope(n.Source)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"source": src, "paths": n.Paths})

	case *Self:
		return json.Marshal(map[string]any{"paths": n.Paths})

	case *Symbol:
		return json.Marshal(map[string]any{"name": n.Name})

	case *Equals:
		left, err := toEnvelope(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := toEnvelope(n.Right)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"left": left, "right": right})

	case *Not:
		arg, err := toEnvelope(n.Arg)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"arg": arg})

	case *Call:
		params := make([]*envelope, len(n.Params))
		for i, p := range n.Params {
			env, err := toEnvelope(p)
			if err != nil {
				return nil, err
			}
			params[i] = env
		}
		return json.Marshal(map[string]any{"name": n.Name, "params": params})

	case *Object:
		fields := make(map[string]*envelope, len(n.Fields))
		for name, field := range n.Fields {
			env, err := toEnvelope(field)
			if err != nil {
				return nil, err
			}
			fields[name] = env
		}
		return json.Marshal(map[string]any{"fields": fields})

	case *List:
		elems := make([]*envelope, len(n.Elems))
		for i, elem := range n.Elems {
			env, err := toEnvelope(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = env
		}
		return json.Marshal(map[string]any{"elems": elems})

	case *Query:
		payload := map[string]any{"collection": n.Collection, "yields": n.Yields}
		if n.Where != nil {
			where, err := marshalPredicate(n.Where)
			if err != nil {
				return nil, err
			}
			payload["where"] = json.RawMessage(where)
		}
		return json.Marshal(payload)

	default:
		return nil, newConfigError("marshal unknown expression node %T", e)
	}
}

type predEnvelope struct {
	Kind  string            `json:"kind"`
	Field string            `json:"field,omitempty"`
	Value *envelope         `json:"value,omitempty"`
	Preds []json.RawMessage `json:"preds,omitempty"`
}

func marshalPredicate(p Predicate) ([]byte, error) {
	switch pred := p.(type) {
	case *Eq:
		value, err := toEnvelope(pred.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(predEnvelope{Kind: predEq, Field: pred.Field, Value: value})
	case *And:
		raw, err := marshalPredicates(pred.Preds)
		if err != nil {
			return nil, err
		}
		return json.Marshal(predEnvelope{Kind: predAnd, Preds: raw})
	case *Or:
		raw, err := marshalPredicates(pred.Preds)
		if err != nil {
			return nil, err
		}
		return json.Marshal(predEnvelope{Kind: predOr, Preds: raw})
	default:
		return nil, newConfigError("marshal unknown predicate node %T", p)
	}
}

func marshalPredicates(preds []Predicate) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(preds))
	for i, sub := range preds {
		enc, err := marshalPredicate(sub)
		if err != nil {
			return nil, err
		}
		raw[i] = enc
	}
	return raw, nil
}

func fromEnvelope(env envelope) (Expr, error) {
	h := hinted{TypeHint: env.TypeHint}

	switch env.Op {
	case opLiteral:
		var node struct {
			Value any `json:"value"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode literal: %w", err)
		}
		return &Literal{hinted: h, Value: node.Value}, nil

	case opDot:
		var node struct {
			Source envelope `json:"source"`
			Paths  []string `json:"paths"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode dot: %w", err)
		}
		src, err := fromEnvelope(node.Source)
		if err != nil {
			return nil, err
		}
		return &Dot{hinted: h, Source: src, Paths: node.Paths}, nil

	case opSelf:
		var node struct {
			Paths []string `json:"paths"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode self: %w", err)
		}
		return &Self{hinted: h, Paths: node.Paths}, nil

	case opSymbol:
		var node struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode symbol: %w", err)
		}
		return &Symbol{hinted: h, Name: node.Name}, nil

	case opEquals:
		var node struct {
			Left  envelope `json:"left"`
			Right envelope `json:"right"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode equals: %w", err)
		}
		left, err := fromEnvelope(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := fromEnvelope(node.Right)
		if err != nil {
			return nil, err
		}
		return &Equals{hinted: h, Left: left, Right: right}, nil

	case opNot:
		var node struct {
			Arg envelope `json:"arg"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode not: %w", err)
		}
		arg, err := fromEnvelope(node.Arg)
		if err != nil {
			return nil, err
		}
		return &Not{hinted: h, Arg: arg}, nil

	case opCall:
		var node struct {
			Name   string     `json:"name"`
			Params []envelope `json:"params"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode call: %w", err)
		}
		params := make([]Expr, len(node.Params))
		for i, p := range node.Params {
			decoded, err := fromEnvelope(p)
			if err != nil {
				return nil, err
			}
			params[i] = decoded
		}
		return &Call{hinted: h, Name: node.Name, Params: params}, nil

	case opObject:
		var node struct {
			Fields map[string]envelope `json:"fields"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		fields := make(map[string]Expr, len(node.Fields))
		for name, field := range node.Fields {
			decoded, err := fromEnvelope(field)
			if err != nil {
				return nil, err
			}
			fields[name] = decoded
		}
		return &Object{hinted: h, Fields: fields}, nil

	case opList:
		var node struct {
			Elems []envelope `json:"elems"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		elems := make([]Expr, len(node.Elems))
		for i, elem := range node.Elems {
			decoded, err := fromEnvelope(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = decoded
		}
		return &List{hinted: h, Elems: elems}, nil

	case opQuery:
		var node struct {
			Collection string          `json:"collection"`
			Where      json.RawMessage `json:"where"`
			Yields     []string        `json:"yields"`
		}
		if err := json.Unmarshal(env.Node, &node); err != nil {
			return nil, fmt.Errorf("decode query: %w", err)
		}
		var where Predicate
		if len(node.Where) > 0 {
			decoded, err := unmarshalPredicate(node.Where)
			if err != nil {
				return nil, err
			}
			where = decoded
		}
		return &Query{hinted: h, Collection: node.Collection, Where: where, Yields: node.Yields}, nil

	default:
		return nil, newConfigError("unknown expression op %q", env.Op)
	}
}

func unmarshalPredicate(data []byte) (Predicate, error) {
	var env predEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode predicate: %w", err)
	}

	switch env.Kind {
	case predEq:
		if env.Value == nil {
			return nil, newConfigError("eq predicate missing value")
		}
		value, err := fromEnvelope(*env.Value)
		if err != nil {
			return nil, err
		}
		return &Eq{Field: env.Field, Value: value}, nil
	case predAnd, predOr:
		preds := make([]Predicate, len(env.Preds))
		for i, raw := range env.Preds {
			sub, err := unmarshalPredicate(raw)
			if err != nil {
				return nil, err
			}
			preds[i] = sub
		}
		if env.Kind == predOr {
			return &Or{Preds: preds}, nil
		}
		return &And{Preds: preds}, nil
	default:
		return nil, newConfigError("unknown predicate kind %q", env.Kind)
	}
}
