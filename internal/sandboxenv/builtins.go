package sandboxenv

import (
	"errors"
	"fmt"
	gomath "math"
	"math/big"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// maxPowBits bounds the size of integer results from pow.
const maxPowBits = 1 << 20

func builtinAbs(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	switch x := x.(type) {
	case starlark.Int:
		if x.Sign() < 0 {
			return zero.Sub(x), nil
		}
		return x, nil
	case starlark.Float:
		return starlark.Float(gomath.Abs(float64(x))), nil
	}
	return nil, fmt.Errorf("abs: got %s, want int or float", x.Type())
}

var zero = starlark.MakeInt(0)

func builtinSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		iterable starlark.Iterable
		start    starlark.Value = zero
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	if _, ok := start.(starlark.String); ok {
		return nil, errors.New("sum: can't sum strings, use ''.join(seq) instead")
	}
	iter := iterable.Iterate()
	defer iter.Done()
	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		next, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, fmt.Errorf("sum: %w", err)
		}
		acc = next
	}
	return acc, nil
}

func builtinRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		x       starlark.Value
		ndigits starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}
	if ndigits == starlark.None {
		switch x := x.(type) {
		case starlark.Int:
			return x, nil
		case starlark.Float:
			f := float64(x)
			if gomath.IsNaN(f) || gomath.IsInf(f, 0) {
				return nil, fmt.Errorf("round: cannot convert %s to integer", x)
			}
			return starlark.NumberToInt(starlark.Float(gomath.RoundToEven(f)))
		}
		return nil, fmt.Errorf("round: got %s, want int or float", x.Type())
	}
	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("round: ndigits: %w", err)
	}
	switch x := x.(type) {
	case starlark.Int:
		if n >= 0 {
			return x, nil
		}
		f, _ := starlark.AsFloat(x)
		p := gomath.Pow10(-n)
		return starlark.NumberToInt(starlark.Float(gomath.RoundToEven(f/p) * p))
	case starlark.Float:
		p := gomath.Pow10(n)
		return starlark.Float(gomath.RoundToEven(float64(x)*p) / p), nil
	}
	return nil, fmt.Errorf("round: got %s, want int or float", x.Type())
}

func builtinPow(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		base, exp starlark.Value
		mod       starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "base", &base, "exp", &exp, "mod?", &mod); err != nil {
		return nil, err
	}
	bi, baseIsInt := base.(starlark.Int)
	ei, expIsInt := exp.(starlark.Int)

	if mod != starlark.None {
		mi, ok := mod.(starlark.Int)
		if !baseIsInt || !expIsInt || !ok {
			return nil, errors.New("pow: 3-argument pow requires integer arguments")
		}
		if mi.Sign() == 0 {
			return nil, errors.New("pow: modulus must not be zero")
		}
		if ei.Sign() < 0 {
			return nil, errors.New("pow: negative exponent with modulus is not supported")
		}
		r := new(big.Int).Exp(bi.BigInt(), ei.BigInt(), mi.BigInt())
		// Exp ignores the sign of the modulus. The result takes the sign
		// of the modulus, as in Python.
		if mi.Sign() < 0 && r.Sign() > 0 {
			r.Add(r, mi.BigInt())
		}
		return starlark.MakeBigInt(r), nil
	}

	if baseIsInt && expIsInt && ei.Sign() >= 0 {
		e, ok := ei.Int64()
		if !ok || int64(bi.BigInt().BitLen())*e > maxPowBits {
			return nil, errors.New("pow: result too large")
		}
		return starlark.MakeBigInt(new(big.Int).Exp(bi.BigInt(), ei.BigInt(), nil)), nil
	}

	bf, ok1 := starlark.AsFloat(base)
	ef, ok2 := starlark.AsFloat(exp)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("pow: unsupported operand types %s and %s", base.Type(), exp.Type())
	}
	if bf == 0 && ef < 0 {
		return nil, errors.New("pow: zero cannot be raised to a negative power")
	}
	return starlark.Float(gomath.Pow(bf, ef)), nil
}

func builtinDivmod(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	q, err := starlark.Binary(syntax.SLASHSLASH, x, y)
	if err != nil {
		return nil, fmt.Errorf("divmod: %w", err)
	}
	r, err := starlark.Binary(syntax.PERCENT, x, y)
	if err != nil {
		return nil, fmt.Errorf("divmod: %w", err)
	}
	return starlark.Tuple{q, r}, nil
}

// builtinMap returns a list rather than a lazy iterator.
func builtinMap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, errors.New("map: unexpected keyword arguments")
	}
	if len(args) < 2 {
		return nil, errors.New("map: need a function and at least one iterable")
	}
	fn, ok := args[0].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("map: %s is not callable", args[0].Type())
	}
	iters := make([]starlark.Iterator, 0, len(args)-1)
	defer func() {
		for _, it := range iters {
			it.Done()
		}
	}()
	for _, a := range args[1:] {
		it := starlark.Iterate(a)
		if it == nil {
			return nil, fmt.Errorf("map: %s is not iterable", a.Type())
		}
		iters = append(iters, it)
	}
	var out []starlark.Value
	for {
		call := make(starlark.Tuple, len(iters))
		for i, it := range iters {
			if !it.Next(&call[i]) {
				return starlark.NewList(out), nil
			}
		}
		v, err := starlark.Call(thread, fn, call, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// builtinFilter returns a list rather than a lazy iterator.
func builtinFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn, iterable starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}
	it := starlark.Iterate(iterable)
	if it == nil {
		return nil, fmt.Errorf("filter: %s is not iterable", iterable.Type())
	}
	defer it.Done()
	var callable starlark.Callable
	if fn != starlark.None {
		c, ok := fn.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("filter: %s is not callable", fn.Type())
		}
		callable = c
	}
	var (
		out []starlark.Value
		x   starlark.Value
	)
	for it.Next(&x) {
		keep := x
		if callable != nil {
			v, err := starlark.Call(thread, callable, starlark.Tuple{x}, nil)
			if err != nil {
				return nil, err
			}
			keep = v
		}
		if keep.Truth() {
			out = append(out, x)
		}
	}
	return starlark.NewList(out), nil
}

func radix(base int, prefix string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Int
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		n := x.BigInt()
		if n.Sign() < 0 {
			return starlark.String("-" + prefix + new(big.Int).Neg(n).Text(base)), nil
		}
		return starlark.String(prefix + n.Text(base)), nil
	}
}

// typeNames maps constructor builtins to the type names their values report.
var typeNames = map[string][]string{
	"int":   {"int", "bool"},
	"float": {"float"},
	"str":   {"string"},
	"bool":  {"bool"},
	"list":  {"list"},
	"dict":  {"dict"},
	"tuple": {"tuple"},
	"set":   {"set"},
}

func builtinIsinstance(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var obj, classinfo starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &obj, &classinfo); err != nil {
		return nil, err
	}
	candidates := starlark.Tuple{classinfo}
	if t, ok := classinfo.(starlark.Tuple); ok {
		candidates = t
	}
	for _, c := range candidates {
		var names []string
		switch c := c.(type) {
		case *starlark.Builtin:
			names = typeNames[c.Name()]
		case starlark.String:
			names = []string{string(c)}
		}
		if names == nil {
			return nil, fmt.Errorf("isinstance: arg 2 must be a type or tuple of types, got %s", c.Type())
		}
		for _, n := range names {
			if strings.EqualFold(obj.Type(), n) {
				return starlark.True, nil
			}
		}
	}
	return starlark.False, nil
}
