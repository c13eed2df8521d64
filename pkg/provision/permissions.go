package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pubwiki/wikifarm/pkg/types"
	"github.com/pubwiki/wikifarm/pkg/validate"
)

// PermissionsDoc is the grouped permissions document: group name to
// permission list, split into allow and deny halves.
type PermissionsDoc struct {
	Allow map[string][]string `json:"allow"`
	Deny  map[string][]string `json:"deny"`
}

// PermissionsStore is the row persistence the writer needs.
type PermissionsStore interface {
	ReplacePermissions(ctx context.Context, wikiID uint64, entries []types.GroupPermission) error
}

// MergePermissions validates every group and permission name and flattens
// the document into (group, permission, allowed) entries. Deny overrides
// allow on collision. The result is sorted by group then permission.
func MergePermissions(wikiID uint64, doc PermissionsDoc) ([]types.GroupPermission, error) {
	type key struct{ group, perm string }
	combined := make(map[key]bool)

	apply := func(m map[string][]string, allowed bool) error {
		for group, perms := range m {
			if err := validate.Check(group, validate.Group); err != nil {
				return err
			}
			for _, p := range perms {
				if err := validate.Check(p, validate.Perm); err != nil {
					return err
				}
				combined[key{group, p}] = allowed
			}
		}
		return nil
	}
	if err := apply(doc.Allow, true); err != nil {
		return nil, err
	}
	if err := apply(doc.Deny, false); err != nil {
		return nil, err
	}

	entries := make([]types.GroupPermission, 0, len(combined))
	for k, allowed := range combined {
		entries = append(entries, types.GroupPermission{
			WikiID:     wikiID,
			GroupName:  k.group,
			Permission: k.perm,
			Allowed:    allowed,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].GroupName != entries[j].GroupName {
			return entries[i].GroupName < entries[j].GroupName
		}
		return entries[i].Permission < entries[j].Permission
	})
	return entries, nil
}

// RenderPermissionsFile produces the generated permissions file: a fixed
// banner, a UTC timestamp and one $wgGroupPermissions line per entry in
// (group ASC, permission ASC) order. Entries must already be sorted, as
// MergePermissions and the permissions query both guarantee.
func RenderPermissionsFile(entries []types.GroupPermission, now time.Time) []byte {
	var b []byte
	b = append(b, "<?php\n// Auto-generated permissions file. Do NOT edit manually.\n"...)
	b = append(b, fmt.Sprintf("// Generated at %sZ\n", now.UTC().Format("2006-01-02T15:04:05"))...)
	for _, e := range entries {
		b = append(b, fmt.Sprintf("$wgGroupPermissions['%s']['%s'] = %t;\n", e.GroupName, e.Permission, e.Allowed)...)
	}
	return b
}

// WritePermissions replaces a wiki's permission rows and regenerates
// <configDir>/<slug>/permissions.php so the file stays the deterministic
// projection of the table.
func WritePermissions(ctx context.Context, st PermissionsStore, wikiID uint64, slug, configDir string, doc PermissionsDoc) error {
	entries, err := MergePermissions(wikiID, doc)
	if err != nil {
		return err
	}
	if err := st.ReplacePermissions(ctx, wikiID, entries); err != nil {
		return err
	}

	dir := filepath.Join(configDir, slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create permissions dir: %w", err)
	}
	path := filepath.Join(dir, "permissions.php")
	if err := os.WriteFile(path, RenderPermissionsFile(entries, time.Now()), 0644); err != nil {
		return fmt.Errorf("failed to write permissions file: %w", err)
	}
	return nil
}
