package delta

import (
	"sort"
	"strconv"
)

// Patch applies d to a deep copy of base. base is never modified.
func Patch(d Delta, base map[string]any) (map[string]any, error) {
	out := DeepCopy(base).(map[string]any)
	var root any = out
	for _, op := range d {
		var err error
		root, err = apply(root, op)
		if err != nil {
			return nil, err
		}
	}
	m, ok := root.(map[string]any)
	if !ok {
		return nil, &LookupError{Path: []string{}}
	}
	return m, nil
}

// Revert undoes d on a deep copy of base, so Revert(Diff(a, b), b) equals a.
func Revert(d Delta, base map[string]any) (map[string]any, error) {
	return Patch(Swap(d), base)
}

// DeepCopy copies nested maps and lists. Leaves are shared.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepCopy(e)
		}
		return out
	}
	return v
}

// apply returns the (possibly replaced) root after running op against it.
// Lists are rebuilt on insert and delete, so the new list is written back into its parent.
func apply(root any, op Op) (any, error) {
	switch op.Kind {
	case Change:
		if len(op.Path) == 0 {
			return DeepCopy(op.New), nil
		}
		parentPath, last := op.Path[:len(op.Path)-1], op.Path[len(op.Path)-1]
		parent, err := lookup(root, parentPath)
		if err != nil {
			return nil, err
		}
		switch p := parent.(type) {
		case map[string]any:
			if _, ok := p[last]; !ok {
				return nil, &LookupError{Path: parentPath, Key: last}
			}
			p[last] = DeepCopy(op.New)
		case []any:
			i, ok := index(last, len(p))
			if !ok {
				return nil, &LookupError{Path: parentPath, Key: last}
			}
			p[i] = DeepCopy(op.New)
		default:
			return nil, &LookupError{Path: op.Path}
		}
		return root, nil

	case Add, Remove:
		target, err := lookup(root, op.Path)
		if err != nil {
			return nil, err
		}
		switch t := target.(type) {
		case map[string]any:
			for _, it := range op.Items {
				if op.Kind == Add {
					t[it.Key] = DeepCopy(it.Value)
					continue
				}
				if _, ok := t[it.Key]; !ok {
					return nil, &LookupError{Path: op.Path, Key: it.Key}
				}
				delete(t, it.Key)
			}
			return root, nil
		case []any:
			list, err := applyList(t, op)
			if err != nil {
				return nil, err
			}
			return replace(root, op.Path, list)
		}
		return nil, &LookupError{Path: op.Path}
	}
	return root, nil
}

func applyList(list []any, op Op) ([]any, error) {
	items := make([]Item, len(op.Items))
	copy(items, op.Items)
	idx := make([]int, len(items))
	for n, it := range items {
		i, err := strconv.Atoi(it.Key)
		if err != nil || i < 0 {
			return nil, &LookupError{Path: op.Path, Key: it.Key}
		}
		idx[n] = i
	}
	order := make([]int, len(items))
	for n := range order {
		order[n] = n
	}

	if op.Kind == Add {
		sort.SliceStable(order, func(a, b int) bool { return idx[order[a]] < idx[order[b]] })
		for _, n := range order {
			i := min(idx[n], len(list))
			list = append(list, nil)
			copy(list[i+1:], list[i:])
			list[i] = DeepCopy(items[n].Value)
		}
		return list, nil
	}

	sort.SliceStable(order, func(a, b int) bool { return idx[order[a]] > idx[order[b]] })
	for _, n := range order {
		i := idx[n]
		if i >= len(list) {
			return nil, &LookupError{Path: op.Path, Key: items[n].Key}
		}
		list = append(list[:i], list[i+1:]...)
	}
	return list, nil
}

// replace stores v at path, returning the new root.
func replace(root any, path []string, v any) (any, error) {
	if len(path) == 0 {
		return v, nil
	}
	parentPath, last := path[:len(path)-1], path[len(path)-1]
	parent, err := lookup(root, parentPath)
	if err != nil {
		return nil, err
	}
	switch p := parent.(type) {
	case map[string]any:
		p[last] = v
	case []any:
		i, ok := index(last, len(p))
		if !ok {
			return nil, &LookupError{Path: parentPath, Key: last}
		}
		p[i] = v
	}
	return root, nil
}

func lookup(root any, path []string) (any, error) {
	cur := root
	for n, key := range path {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[key]
			if !ok {
				return nil, &LookupError{Path: path[:n], Key: key}
			}
			cur = next
		case []any:
			i, ok := index(key, len(c))
			if !ok {
				return nil, &LookupError{Path: path[:n], Key: key}
			}
			cur = c[i]
		default:
			return nil, &LookupError{Path: path[:n+1]}
		}
	}
	return cur, nil
}

func index(key string, n int) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}
