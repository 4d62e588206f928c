package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/lineage/internal/graph"
	"github.com/roach88/lineage/internal/ir"
)

// cachedResultAttributes are copied from a cached calculation onto its clone.
var cachedResultAttributes = []string{
	ir.AttrProcessState,
	ir.AttrProcessStatus,
	ir.AttrExitStatus,
	ir.AttrExitMessage,
	ir.AttrSealed,
}

// StoreNode persists an unstored node with its incoming links and repository
// files in one transaction. Storing an already stored node is a no-op.
func (s *Store) StoreNode(ctx context.Context, n *graph.Node) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.StoreNode(ctx, n)
	})
}

// StoreAll persists nodes and, first, any unstored link sources they depend
// on, in one transaction.
func (s *Store) StoreAll(ctx context.Context, nodes ...*graph.Node) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		visiting := make(map[*graph.Node]bool)
		for _, n := range nodes {
			if err := tx.storeWithSources(ctx, n, visiting); err != nil {
				return err
			}
		}
		return nil
	})
}

func (tx *Tx) storeWithSources(ctx context.Context, n *graph.Node, visiting map[*graph.Node]bool) error {
	if n.IsStored() || tx.pending(n) {
		return nil
	}
	if visiting[n] {
		return ir.Errorf(ir.CodeValidation, "unstored nodes link to each other in a cycle at %s", n.UUID())
	}
	visiting[n] = true
	for _, l := range n.Incoming() {
		if err := tx.storeWithSources(ctx, l.Source, visiting); err != nil {
			return err
		}
	}
	return tx.StoreNode(ctx, n)
}

// pending reports whether n was stored earlier in this uncommitted transaction.
func (tx *Tx) pending(n *graph.Node) bool {
	_, ok := tx.staged[n]
	return ok
}

// stagedPK returns the pk of a node that is stored or staged in this transaction.
func (tx *Tx) stagedPK(n *graph.Node) (int64, string, bool) {
	if n.IsStored() {
		return n.PK(), n.Hash(), true
	}
	if st, ok := tx.staged[n]; ok {
		return st.PK, st.Hash, true
	}
	return 0, "", false
}

// StoreNode persists n inside the transaction. The in-memory node is marked
// stored only after the outermost commit.
func (tx *Tx) StoreNode(ctx context.Context, n *graph.Node) error {
	if n.IsStored() || tx.pending(n) {
		return nil
	}
	s := tx.s
	q := tx.q()

	info, err := s.reg.Storable(n.Subtype())
	if err != nil {
		return err
	}

	type resolvedLink struct {
		pk   int64
		hash string
		l    graph.PendingLink
	}
	incoming := n.Incoming()
	links := make([]resolvedLink, 0, len(incoming))
	for _, l := range incoming {
		pk, hash, ok := tx.stagedPK(l.Source)
		if !ok {
			return &ir.Error{
				Code:    ir.CodeModificationNotAllowed,
				Message: fmt.Sprintf("cannot store node: linked source %s is not stored", l.Source.UUID()),
				Entity:  n.UUID(),
			}
		}
		links = append(links, resolvedLink{pk: pk, hash: hash, l: l})
	}

	// The target is new, so only the sources' stored outgoing links can conflict.
	for _, rl := range links {
		outgoing, err := edgesFrom(ctx, q, rl.pk)
		if err != nil {
			return err
		}
		e := graph.Edge{Source: rl.l.Source.UUID(), Target: n.UUID(), Type: rl.l.Type, Label: rl.l.Label}
		if err := graph.CheckConflicts(e, nil, outgoing); err != nil {
			return err
		}
		if rl.l.Type.IsOutput() || rl.l.Type.IsCall() {
			if err := checkNotSealed(ctx, q, rl.pk, rl.l.Source.UUID()); err != nil {
				return err
			}
		}
	}

	files := n.Files()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	digests := make(map[string]string, len(files))
	for _, p := range paths {
		key, err := s.objects.Put(ctx, files[p])
		if err != nil {
			return fmt.Errorf("store node %s: %w", n.UUID(), err)
		}
		digests[p] = key
	}

	inputs := make(map[string]string)
	for _, rl := range links {
		if rl.l.Type.IsInput() {
			inputs[rl.l.Label] = rl.hash
		}
	}
	hash, err := ir.NodeHash(ir.NodeHashInput{
		Subtype:    info.Name,
		Attributes: n.HashableAttributes(),
		Files:      digests,
		Inputs:     inputs,
	})
	if err != nil {
		return fmt.Errorf("store node %s: %w", n.UUID(), err)
	}

	attrs := n.Attributes()
	extras := n.Extras()
	var cached *cachedSource
	if s.caching.Applies(info) {
		cached, err = findCached(ctx, q, info.Name, hash)
		if err != nil {
			return err
		}
	}
	if cached != nil {
		for _, k := range cachedResultAttributes {
			if v, ok := cached.attributes[k]; ok {
				attrs[k] = v
			}
		}
		extras[ir.ExtraCachedFrom] = ir.IRString(cached.uuid)
	}

	attrsJSON, err := marshalObject(attrs)
	if err != nil {
		return fmt.Errorf("store node %s: %w", n.UUID(), err)
	}
	extrasJSON, err := marshalObject(extras)
	if err != nil {
		return fmt.Errorf("store node %s: %w", n.UUID(), err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO nodes
		(uuid, node_type, subtype, label, description, ctime, mtime, version, attributes, extras, node_hash, user_id, computer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.UUID(),
		string(info.Type),
		info.Name,
		n.Label(),
		n.Description(),
		formatTime(n.Ctime()),
		formatTime(n.Mtime()),
		n.Version(),
		attrsJSON,
		extrasJSON,
		hash,
		nullInt64(n.UserPK()),
		nullInt64(n.ComputerPK()),
	)
	if err != nil {
		return fmt.Errorf("store node: %w", integrityError(err, n.UUID()))
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store node: last insert id: %w", err)
	}

	for _, rl := range links {
		if err := insertLink(ctx, q, rl.pk, pk, rl.l.Type, rl.l.Label); err != nil {
			return err
		}
	}
	for _, p := range paths {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO node_files (node_id, path, object_key, size) VALUES (?, ?, ?, ?)
		`, pk, p, digests[p], len(files[p])); err != nil {
			return fmt.Errorf("store node file %s: %w", p, err)
		}
	}

	tx.indexNode(pk)
	for _, rl := range links {
		if err := tx.indexEdge(rl.pk, pk, rl.l.Type); err != nil {
			return err
		}
	}

	if cached != nil {
		if err := tx.cloneCreatedOutputs(ctx, cached.pk, pk); err != nil {
			return err
		}
		slog.Info("cache hit", "node_uuid", n.UUID(), "cached_from", cached.uuid, "subtype", info.Name)
	}

	state := graph.StoredState{PK: pk, Hash: hash}
	if cached != nil {
		state.Attributes = attrs
		state.Extras = extras
	}
	tx.stage(n, state)
	return nil
}

// stage records n as stored in this transaction and marks it on commit.
func (tx *Tx) stage(n *graph.Node, st graph.StoredState) {
	if tx.staged == nil {
		tx.staged = make(map[*graph.Node]graph.StoredState)
	}
	tx.staged[n] = st
	tx.OnRollback(func() { delete(tx.staged, n) })
	tx.OnCommit(func() { n.MarkStored(st) })
}

// indexNode adds pk to both topological indices, undone on rollback.
func (tx *Tx) indexNode(pk int64) {
	tx.s.provIdx.AddNode(pk)
	tx.s.callIdx.AddNode(pk)
	tx.OnRollback(func() {
		tx.s.provIdx.RemoveNode(pk)
		tx.s.callIdx.RemoveNode(pk)
	})
}

// indexEdge inserts a link into the matching topological index, undone on
// rollback. Returns a validation error if the link would close a cycle.
func (tx *Tx) indexEdge(from, to int64, lt ir.LinkType) error {
	var idx *graph.TopoIndex
	switch {
	case lt.IsProvenance():
		idx = tx.s.provIdx
	case lt.IsCall():
		idx = tx.s.callIdx
	default:
		return nil
	}
	if idx.HasEdge(from, to) {
		return nil
	}
	if err := idx.AddEdge(from, to); err != nil {
		return &ir.Error{Code: ir.CodeValidation, Message: "link would create a cycle", Entity: fmt.Sprintf("%d -> %d", from, to), Err: err}
	}
	tx.OnRollback(func() { idx.RemoveEdge(from, to) })
	return nil
}

type cachedSource struct {
	pk         int64
	uuid       string
	attributes ir.IRObject
}

// findCached returns the oldest sealed, successfully finished node with the
// same subtype and hash, or nil.
func findCached(ctx context.Context, q querier, subtype, hash string) (*cachedSource, error) {
	var c cachedSource
	var attrs string
	err := q.QueryRowContext(ctx, `
		SELECT id, uuid, attributes FROM nodes
		WHERE node_hash = ? AND subtype = ?
		  AND json_extract(attributes, '$.sealed') = 1
		  AND json_extract(attributes, '$.process_state') = 'finished'
		  AND json_extract(attributes, '$.exit_status') = 0
		ORDER BY id ASC
		LIMIT 1
	`, hash, subtype).Scan(&c.pk, &c.uuid, &attrs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find cached node: %w", err)
	}
	if c.attributes, err = unmarshalObject(attrs); err != nil {
		return nil, err
	}
	return &c, nil
}

// cloneCreatedOutputs copies every CREATE output of src onto dst with fresh
// UUIDs, reusing repository objects.
func (tx *Tx) cloneCreatedOutputs(ctx context.Context, src, dst int64) error {
	q := tx.q()
	rows, err := q.QueryContext(ctx, `
		SELECT l.label, n.id, n.node_type, n.subtype, n.label, n.description, n.version, n.attributes, n.extras, n.node_hash
		FROM links l JOIN nodes n ON n.id = l.output_id
		WHERE l.input_id = ? AND l.type = ?
		ORDER BY l.id ASC
	`, src, string(ir.LinkCreate))
	if err != nil {
		return fmt.Errorf("query cached outputs: %w", err)
	}
	type output struct {
		linkLabel, nodeType, subtype, label, desc, attrs, extras, hash string
		pk, version                                                     int64
	}
	var outs []output
	for rows.Next() {
		var o output
		if err := rows.Scan(&o.linkLabel, &o.pk, &o.nodeType, &o.subtype, &o.label, &o.desc, &o.version, &o.attrs, &o.extras, &o.hash); err != nil {
			rows.Close()
			return fmt.Errorf("scan cached output: %w", err)
		}
		outs = append(outs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cached outputs: %w", err)
	}

	now := formatTime(tx.s.clock())
	for _, o := range outs {
		res, err := q.ExecContext(ctx, `
			INSERT INTO nodes
			(uuid, node_type, subtype, label, description, ctime, mtime, version, attributes, extras, node_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), o.nodeType, o.subtype, o.label, o.desc, now, now, o.version, o.attrs, o.extras, o.hash)
		if err != nil {
			return fmt.Errorf("clone cached output: %w", err)
		}
		clonePK, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("clone cached output: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO node_files (node_id, path, object_key, size)
			SELECT ?, path, object_key, size FROM node_files WHERE node_id = ?
		`, clonePK, o.pk); err != nil {
			return fmt.Errorf("clone cached output files: %w", err)
		}
		if err := insertLink(ctx, q, dst, clonePK, ir.LinkCreate, o.linkLabel); err != nil {
			return err
		}
		tx.indexNode(clonePK)
		if err := tx.indexEdge(dst, clonePK, ir.LinkCreate); err != nil {
			return err
		}
	}
	return nil
}

// checkNotSealed rejects new links on a sealed process node.
func checkNotSealed(ctx context.Context, q querier, pk int64, entity string) error {
	var sealed sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT json_extract(attributes, '$.sealed') FROM nodes WHERE id = ?`, pk).Scan(&sealed)
	if err == sql.ErrNoRows {
		return ir.NotExistent("node", entity)
	}
	if err != nil {
		return fmt.Errorf("check sealed: %w", err)
	}
	if sealed.Valid && sealed.Int64 == 1 {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "node is sealed", Entity: entity}
	}
	return nil
}

// Flush persists the dirty attributes, extras, label and description of a
// stored node. Attribute keys are merged into the stored JSON so concurrent
// writers of different keys do not clobber each other.
func (s *Store) Flush(ctx context.Context, n *graph.Node) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.Flush(ctx, n)
	})
}

// Flush is the transactional form of Store.Flush.
func (tx *Tx) Flush(ctx context.Context, n *graph.Node) error {
	if !n.IsStored() {
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "cannot flush an unstored node", Entity: n.UUID()}
	}
	d := n.Dirty()
	if d.Empty() {
		return nil
	}

	attrExpr, attrArgs, err := jsonPatchExpr("attributes", d.Attributes, n.Attribute)
	if err != nil {
		return err
	}
	extraExpr, extraArgs, err := jsonPatchExpr("extras", d.Extras, n.Extra)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE nodes SET
			attributes = %s,
			extras = %s,
			label = ?,
			description = ?,
			mtime = ?,
			version = ?
		WHERE id = ?`, attrExpr, extraExpr)
	args := append(attrArgs, extraArgs...)
	args = append(args, n.Label(), n.Description(), formatTime(n.Mtime()), n.Version(), n.PK())

	// Attribute writes must not land on a node sealed by another writer.
	if len(d.Attributes) > 0 && !(len(d.Attributes) == 1 && d.Attributes[ir.AttrSealed]) {
		query += ` AND json_extract(attributes, '$.sealed') IS NOT 1`
	}

	res, err := tx.q().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("flush node %s: %w", n.UUID(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("flush node %s: %w", n.UUID(), err)
	}
	if affected == 0 {
		var exists int
		if err := tx.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE id = ?`, n.PK()).Scan(&exists); err != nil {
			return fmt.Errorf("flush node %s: %w", n.UUID(), err)
		}
		if exists == 0 {
			return ir.NotExistent("node", n.UUID())
		}
		return &ir.Error{Code: ir.CodeModificationNotAllowed, Message: "node is sealed", Entity: n.UUID()}
	}

	tx.OnCommit(n.ClearDirty)
	return nil
}

// jsonPatchExpr builds a json_set/json_remove chain applying the dirty keys.
func jsonPatchExpr(column string, dirty map[string]bool, get func(string) (ir.IRValue, bool)) (string, []any, error) {
	keys := make([]string, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	expr := column
	var args []any
	for _, k := range keys {
		if strings.ContainsAny(k, `"`) {
			return "", nil, ir.Errorf(ir.CodeValidation, "key %q cannot contain a double quote", k)
		}
		path := fmt.Sprintf(`$."%s"`, k)
		if v, ok := get(k); ok {
			data, err := ir.MarshalCanonical(v)
			if err != nil {
				return "", nil, fmt.Errorf("marshal %s.%s: %w", column, k, err)
			}
			expr = fmt.Sprintf("json_set(%s, ?, json(?))", expr)
			args = append(args, path, string(data))
		} else {
			expr = fmt.Sprintf("json_remove(%s, ?)", expr)
			args = append(args, path)
		}
	}
	return expr, args, nil
}

// SetExtra sets an extra on a stored node and persists it immediately.
func (s *Store) SetExtra(ctx context.Context, n *graph.Node, key string, value ir.IRValue) error {
	n.SetExtra(key, value)
	if !n.IsStored() {
		return nil
	}
	return s.Flush(ctx, n)
}

// DeleteExtra removes an extra and persists the change for stored nodes.
func (s *Store) DeleteExtra(ctx context.Context, n *graph.Node, key string) error {
	if err := n.DeleteExtra(key); err != nil {
		return err
	}
	if !n.IsStored() {
		return nil
	}
	return s.Flush(ctx, n)
}

// SetLabel sets the label and persists it for stored nodes.
func (s *Store) SetLabel(ctx context.Context, n *graph.Node, label string) error {
	n.SetLabel(label)
	if !n.IsStored() {
		return nil
	}
	return s.Flush(ctx, n)
}

// SetDescription sets the description and persists it for stored nodes.
func (s *Store) SetDescription(ctx context.Context, n *graph.Node, desc string) error {
	n.SetDescription(desc)
	if !n.IsStored() {
		return nil
	}
	return s.Flush(ctx, n)
}

// SetAttribute sets an attribute. On a stored node only updatable keys of an
// unsealed node are accepted, and the change is persisted immediately.
func (s *Store) SetAttribute(ctx context.Context, n *graph.Node, key string, value ir.IRValue) error {
	if err := n.SetAttribute(key, value); err != nil {
		return err
	}
	if !n.IsStored() {
		return nil
	}
	return s.Flush(ctx, n)
}

// Seal freezes a stored node's updatable attributes.
func (s *Store) Seal(ctx context.Context, n *graph.Node) error {
	if err := n.Seal(); err != nil {
		return err
	}
	return s.Flush(ctx, n)
}
