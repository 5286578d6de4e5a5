package model

import (
	"errors"
	"testing"

	"github.com/openfroyo/webplane/pkg/errdefs"
)

func testSchema() *ResourceDefinition {
	root := NewRootDefinition()
	sub := root.AddChild(NewResourceDefinition(Element("subsystem", "web"),
		NewAttribute("default-session-timeout", TypeInt).Default(Int(30)).Build(),
	))
	conn := sub.AddChild(NewResourceDefinition(Element("connector", Wildcard),
		NewAttribute("protocol", TypeString).Required().Build(),
		NewAttribute("scheme", TypeString).Default(String("http")).Build(),
		NewAttribute("enabled", TypeBool).Default(Bool(true)).Mutability(RuntimeWritable).Build(),
		NewAttribute("name", TypeString).Mutability(ReadOnly).Build(),
		NewAttribute("proxy-port", TypeInt).Range(1, 65535).Build(),
	).WithConstraints("web-connector"))
	conn.AddChild(NewResourceDefinition(Element("configuration", "ssl"),
		NewAttribute("key-alias", TypeString).Build(),
	))
	return root
}

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree(testSchema())
	if _, err := tree.CreateChild(RootAddress, Element("subsystem", "web"), nil); err != nil {
		t.Fatalf("Failed to create subsystem: %v", err)
	}
	return tree
}

var web = MustParseAddress("/subsystem=web")

func TestTree_CreateChild(t *testing.T) {
	tree := newTestTree(t)

	r, err := tree.CreateChild(web, Element("connector", "http"), map[string]Value{
		"protocol":   String("HTTP/1.1"),
		"proxy-port": String("8443"),
	})
	if err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}
	if !r.Raw("proxy-port").Equal(Int(8443)) {
		t.Errorf("Expected coerced proxy-port, got %s", r.Raw("proxy-port"))
	}

	_, err = tree.CreateChild(web, Element("connector", "http"), map[string]Value{"protocol": String("AJP/1.3")})
	if !errors.Is(err, errdefs.ErrDuplicateResource) {
		t.Errorf("Expected DuplicateResource, got %v", err)
	}
}

func TestTree_CreateChild_SchemaViolations(t *testing.T) {
	tree := newTestTree(t)

	tests := []struct {
		name  string
		attrs map[string]Value
		want  error
	}{
		{"missing required", map[string]Value{}, errdefs.ErrMissingRequired},
		{"unknown attribute", map[string]Value{"protocol": String("HTTP/1.1"), "bogus": Int(1)}, errdefs.ErrUnknownAttribute},
		{"wrong type", map[string]Value{"protocol": String("HTTP/1.1"), "enabled": String("maybe")}, errdefs.ErrWrongType},
		{"out of range", map[string]Value{"protocol": String("HTTP/1.1"), "proxy-port": Int(0)}, errdefs.ErrSchemaViolation},
		{"expression not allowed", map[string]Value{"protocol": Expression("${p}")}, errdefs.ErrWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tree.CreateChild(web, Element("connector", "c"), tt.attrs)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if tree.Exists(web.Append(Element("connector", "c"))) {
				t.Fatal("Failed create left a resource behind")
			}
		})
	}

	if _, err := tree.CreateChild(web, Element("valve", "x"), nil); !errors.Is(err, errdefs.ErrSchemaViolation) {
		t.Errorf("Expected SchemaViolation for unregistered child type, got %v", err)
	}
}

func TestTree_ReadAttribute_Defaults(t *testing.T) {
	tree := newTestTree(t)
	addr := web.Append(Element("connector", "http"))
	if _, err := tree.CreateChild(web, addr.Last(), map[string]Value{"protocol": String("HTTP/1.1")}); err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}

	v, err := tree.ReadAttribute(addr, "scheme")
	if err != nil || !v.Equal(String("http")) {
		t.Errorf("Expected default scheme, got %s (%v)", v, err)
	}
	v, _ = tree.ReadAttribute(addr, "proxy-port")
	if v.IsDefined() {
		t.Errorf("Expected undefined for attribute without default, got %s", v)
	}

	if _, err := tree.WriteAttribute(addr, "scheme", Null()); err != nil {
		t.Fatalf("Write null failed: %v", err)
	}
	r, _ := tree.Get(addr)
	if r.State("scheme") != StateNull {
		t.Errorf("Expected explicit null state, got %s", r.State("scheme"))
	}
	if v, _ := tree.ReadAttribute(addr, "scheme"); !v.IsNull() {
		t.Errorf("Explicit null must not fall back to default, got %s", v)
	}

	if _, err := tree.WriteAttribute(addr, "scheme", String("http")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	r, _ = tree.Get(addr)
	if r.State("scheme") != StateSet {
		t.Errorf("Writing the default value must leave the attribute set, got %s", r.State("scheme"))
	}
}

func TestTree_WriteAttribute_Errors(t *testing.T) {
	tree := newTestTree(t)
	addr := web.Append(Element("connector", "http"))
	if _, err := tree.CreateChild(web, addr.Last(), map[string]Value{"protocol": String("HTTP/1.1")}); err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}

	if _, err := tree.WriteAttribute(addr, "nope", Int(1)); !errors.Is(err, errdefs.ErrUnknownAttribute) {
		t.Errorf("Expected UnknownAttribute, got %v", err)
	}
	if _, err := tree.WriteAttribute(addr, "enabled", Int(1)); !errors.Is(err, errdefs.ErrWrongType) {
		t.Errorf("Expected WrongType, got %v", err)
	}
	if _, err := tree.WriteAttribute(addr, "name", String("x")); !errors.Is(err, errdefs.ErrImmutable) {
		t.Errorf("Expected Immutable, got %v", err)
	}
	if _, err := tree.UndefineAttribute(addr, "protocol"); !errors.Is(err, errdefs.ErrMissingRequired) {
		t.Errorf("Expected MissingRequired, got %v", err)
	}
	if _, err := tree.WriteAttribute(web.Append(Element("connector", "none")), "enabled", Bool(true)); !errors.Is(err, errdefs.ErrResourceNotFound) {
		t.Errorf("Expected ResourceNotFound, got %v", err)
	}
}

func TestTree_RemoveChild_Cascade(t *testing.T) {
	tree := newTestTree(t)
	addr := web.Append(Element("connector", "https"))
	if _, err := tree.CreateChild(web, addr.Last(), map[string]Value{"protocol": String("HTTP/1.1")}); err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}
	if _, err := tree.CreateChild(addr, Element("configuration", "ssl"), map[string]Value{"key-alias": String("k")}); err != nil {
		t.Fatalf("CreateChild ssl failed: %v", err)
	}

	if _, err := tree.RemoveChild(addr, false); !errors.Is(err, errdefs.ErrResourceHasChildren) {
		t.Fatalf("Expected ResourceHasChildren, got %v", err)
	}
	removed, err := tree.RemoveChild(addr, true)
	if err != nil {
		t.Fatalf("Cascade remove failed: %v", err)
	}
	if removed.Child(Element("configuration", "ssl")) == nil {
		t.Error("Removed subtree should still carry its children")
	}
	if tree.Exists(addr) {
		t.Error("Resource still present after removal")
	}
}

func TestTree_ReplaceRestoresSnapshot(t *testing.T) {
	tree := newTestTree(t)
	addr := web.Append(Element("connector", "http"))
	if _, err := tree.CreateChild(web, addr.Last(), map[string]Value{"protocol": String("HTTP/1.1")}); err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}
	before := tree.Snapshot(web)

	if _, err := tree.WriteAttribute(addr, "scheme", String("https")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := tree.CreateChild(addr, Element("configuration", "ssl"), nil); err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}
	if err := tree.Replace(web, before); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if !tree.Snapshot(web).Equal(before) {
		t.Error("Tree differs from the restored snapshot")
	}
}

func TestTree_ReplaceKeepsSiblingOrder(t *testing.T) {
	tree := newTestTree(t)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := tree.CreateChild(web, Element("connector", name), map[string]Value{"protocol": String("HTTP/1.1")}); err != nil {
			t.Fatalf("CreateChild %s failed: %v", name, err)
		}
	}
	addr := web.Append(Element("connector", "b"))
	snap := tree.Snapshot(addr)

	if _, err := tree.RemoveChild(addr, false); err != nil {
		t.Fatalf("RemoveChild failed: %v", err)
	}
	if err := tree.Replace(addr, snap); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	r, err := tree.Get(web)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var got []string
	for _, c := range r.Children("connector") {
		got = append(got, c.Address().Last().Name)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Expected connectors [a b c] after restoring b, got %v", got)
	}
}

func TestResource_Graft(t *testing.T) {
	tree := newTestTree(t)
	addr := web.Append(Element("connector", "http"))
	if _, err := tree.CreateChild(web, addr.Last(), map[string]Value{"protocol": String("HTTP/1.1")}); err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}
	snap := tree.Snapshot(web)
	conn := snap.Child(addr.Last())

	if err := snap.Graft(Address{addr.Last()}, nil); err != nil {
		t.Fatalf("Graft remove failed: %v", err)
	}
	if snap.Child(addr.Last()) != nil {
		t.Fatal("Expected connector to be removed from snapshot")
	}
	if !tree.Exists(addr) {
		t.Fatal("Grafting a snapshot must not touch the tree")
	}
	if err := snap.Graft(Address{addr.Last()}, conn); err != nil {
		t.Fatalf("Graft insert failed: %v", err)
	}
	if !snap.Child(addr.Last()).Address().Equal(addr) {
		t.Errorf("Grafted child has wrong address %s", snap.Child(addr.Last()).Address())
	}
}
