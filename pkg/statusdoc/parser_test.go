package statusdoc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/pkg/domain"
)

func TestParse_Basic(t *testing.T) {
	doc := strings.Join([]string{
		"Project: demo",
		"Owner: core",
		"",
		"- [x] Design",
		"- [/] Implement",
		"    - [/] Write code @ sub.md",
		"    - [ ] Write tests",
		"- [ ] Ship",
	}, "\n") + "\n"

	tree, err := NewParser().Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"Project", "Owner"}, tree.Headers.Keys())
	require.Len(t, tree.Roots, 3)
	assert.Equal(t, domain.StatusDone, tree.Roots[0].Status)

	impl := tree.Roots[1]
	require.Len(t, impl.Children, 2)
	assert.Equal(t, "Write code", impl.Children[0].Name)
	assert.Equal(t, "sub.md", impl.Children[0].Ref)
	assert.Equal(t, 1, impl.Children[0].IndentLevel)
}

func TestParse_MarkerNormalization(t *testing.T) {
	cases := map[string]domain.Status{
		"[ ]": domain.StatusPending,
		"[/]": domain.StatusActive,
		"[x]": domain.StatusDone,
		"[X]": domain.StatusDone,
		"[v]": domain.StatusDone,
		"[-]": domain.StatusSkipped,
	}
	for marker, want := range cases {
		tree, err := NewParser().Parse([]byte("- " + marker + " A\n"))
		require.NoError(t, err, marker)
		assert.Equal(t, want, tree.Roots[0].Status, marker)
	}
}

func TestParse_UnknownMarker(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [?] A\n"))
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Error(), "unknown marker")
	assert.Equal(t, 1, valErr.Line)
}

func TestParse_TabIndentForbidden(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [/] A\n\t- [ ] B\n"))
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Error(), "tabs are forbidden")
}

func TestParse_OddIndentForbidden(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [/] A\n  - [ ] B\n"))
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Error(), "multiple of 4")
}

func TestParse_OrphanIndent(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [/] A\n        - [ ] B\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphaned")
}

func TestParse_MalformedTaskLineIsHardError(t *testing.T) {
	_, err := NewParser().Parse([]byte("- no marker here\n"))
	require.Error(t, err)
}

func TestParse_CommentsDiscarded(t *testing.T) {
	doc := "<!-- a note -->\n- [ ] A\n<!-- another -->\n"
	tree, err := NewParser().Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)

	out, err := Serialize(tree)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<!--")
}

func TestParse_MarkerInsideNameIsLiteral(t *testing.T) {
	tree, err := NewParser().Parse([]byte("- [ ] check the [x] box behavior\n"))
	require.NoError(t, err)
	assert.Equal(t, "check the [x] box behavior", tree.Roots[0].Name)
	assert.Equal(t, domain.StatusPending, tree.Roots[0].Status)
}

func TestParse_QuotedRef(t *testing.T) {
	tree, err := NewParser().Parse([]byte("- [/] A @ \"sub flows/phase one.md\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "sub flows/phase one.md", tree.Roots[0].Ref)
	assert.Equal(t, "A", tree.Roots[0].Name)
}

func TestParse_RefTraversalRejected(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [/] escape @ ../../etc/passwd\n"))
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Error(), "Jailbreak attempt")
}

func TestParse_RefProtocolRejected(t *testing.T) {
	for _, ref := range []string{"javascript:alert(1)", "data:text/plain;x", "file:///etc/passwd"} {
		_, err := NewParser().Parse([]byte("- [/] bad @ " + ref + "\n"))
		require.Error(t, err, ref)
	}
}

func TestParse_RefReservedDeviceRejected(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [/] bad @ sub/CON.md\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved device")
}

func TestParse_AmbiguousFocus(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [/] A\n- [/] B\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ambiguous Focus")
}

func TestParse_DoneParentPendingChild(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [x] A\n    - [ ] B\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logic conflict")
}

func TestParse_DuplicateSiblingNames(t *testing.T) {
	_, err := NewParser().Parse([]byte("- [ ] A\n- [ ] A\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParse_HeaderLastWriteWins(t *testing.T) {
	tree, err := NewParser().Parse([]byte("Key: one\nKey: two\n\n- [ ] A\n"))
	require.NoError(t, err)
	v, _ := tree.Headers.Get("Key")
	assert.Equal(t, "two", v)
	assert.Equal(t, []string{"Key"}, tree.Headers.Keys())
}

func TestParse_CRLFInput(t *testing.T) {
	tree, err := NewParser().Parse([]byte("Key: v\r\n\r\n- [ ] A\r\n"))
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)

	out, err := Serialize(tree)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "\r", "output is LF-only")
}

func TestParse_InvalidUTF8(t *testing.T) {
	_, err := NewParser().Parse([]byte{'-', ' ', '[', ' ', ']', ' ', 0xFF, 0xFE, '\n'})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTF-8")
}

func TestParse_DepthCap(t *testing.T) {
	p := &Parser{MaxDepth: 3}
	var b strings.Builder
	b.WriteString("- [/] l0\n")
	b.WriteString("    - [/] l1\n")
	b.WriteString("        - [/] l2\n")
	b.WriteString("            - [/] l3\n")
	_, err := p.Parse([]byte(b.String()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestRoundTrip_UnicodeFidelity(t *testing.T) {
	name := "Fix bug… maybe? 🐍 ünïcödé"
	doc := "- [ ] " + name + "\n"

	tree, err := NewParser().Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, name, tree.Roots[0].Name)

	out, err := Serialize(tree)
	require.NoError(t, err)
	assert.Equal(t, doc, string(out))
	assert.True(t, strings.HasSuffix(string(out), "\n"))
}

func TestRoundTrip_NameBytesUntouched(t *testing.T) {
	// Trailing spaces, embedded markers, odd punctuation: all opaque bytes.
	doc := "- [ ] name with trailing spaces   \n"
	tree, err := NewParser().Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "name with trailing spaces   ", tree.Roots[0].Name)

	out, err := Serialize(tree)
	require.NoError(t, err)
	assert.Equal(t, doc, string(out))
}

func TestRoundTrip_BOMPreserved(t *testing.T) {
	doc := append([]byte{0xEF, 0xBB, 0xBF}, []byte("- [ ] A\n")...)
	tree, err := NewParser().Parse(doc)
	require.NoError(t, err)
	assert.True(t, tree.BOM)

	out, err := Serialize(tree)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestRoundTrip_CanonicalDocsAreFixpoints(t *testing.T) {
	docs := []string{
		"- [ ] A\n",
		"Key: value\n\n- [x] Done thing\n    - [x] child\n",
		"- [/] Active @ sub.md\n    - [ ] next\n",
		"- [ ] spaced ref @ \"a b.md\"\n",
		"- [-] skipped\n- [ ] open\n",
	}
	p := NewParser()
	for _, doc := range docs {
		tree, err := p.Parse([]byte(doc))
		require.NoError(t, err, doc)
		out, err := Serialize(tree)
		require.NoError(t, err, doc)
		assert.Equal(t, doc, string(out), doc)
	}
}

func TestRoundTrip_TreeEquality(t *testing.T) {
	doc := "H: v\n\n- [x] A\n- [/] B\n    - [/] B1 @ s.md\n    - [ ] B2\n"
	p := NewParser()

	t1, err := p.Parse([]byte(doc))
	require.NoError(t, err)
	out, err := Serialize(t1)
	require.NoError(t, err)
	t2, err := p.Parse(out)
	require.NoError(t, err)

	assert.True(t, t1.Equal(t2))
}

func TestSerialize_NonCanonicalMarkersNormalize(t *testing.T) {
	tree, err := NewParser().Parse([]byte("- [v] A\n- [X] B\n"))
	require.NoError(t, err)

	out, err := Serialize(tree)
	require.NoError(t, err)
	assert.Equal(t, "- [x] A\n- [x] B\n", string(out))
}

func TestSerialize_RejectsInvalidStatus(t *testing.T) {
	tree := domain.NewStatusTree()
	tree.Roots = []*domain.Task{{Name: "A", Status: domain.Status("exploded")}}
	tree.Reindex()

	_, err := Serialize(tree)
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Error(), "out-of-range")
}

func TestSerialize_RejectsInvariantBreach(t *testing.T) {
	tree := domain.NewStatusTree()
	tree.Roots = []*domain.Task{
		{Name: "A", Status: domain.StatusActive},
		{Name: "B", Status: domain.StatusActive},
	}
	tree.Reindex()

	_, err := Serialize(tree)
	require.Error(t, err)
}

func TestCheckRef_CleanedTraversal(t *testing.T) {
	err := CheckRef("a/../../b.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Jailbreak")
}
