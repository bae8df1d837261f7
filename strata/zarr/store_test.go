package zarr

import (
	"errors"
	"reflect"
	"slices"
	"testing"

	"github.com/pithecene-io/strata/strata"
	s3store "github.com/pithecene-io/strata/strata/s3"
)

const arrayMeta = `{"zarr_format":3,"node_type":"array","attributes":{"foo":42},"shape":[2,2,2],"data_type":"int32","chunk_grid":{"name":"regular","configuration":{"chunk_shape":[1,1,1]}},"chunk_key_encoding":{"name":"default","configuration":{"separator":"/"}},"fill_value":0,"codecs":[{"name":"mycodec","configuration":{"foo":42}}],"storage_transformers":[{"name":"mytransformer","configuration":{"bar":43}}],"dimension_names":["x","y","t"]}`

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	return reflect.DeepEqual(va, vb)
}

func newRepoStore(t *testing.T, mode AccessMode, opts ...strata.Option) (*Store, *strata.Repository) {
	t.Helper()
	repo, err := strata.InitRepository(t.Context(), strata.NewMemory(), true, opts...)
	if err != nil {
		t.Fatal(err)
	}
	s, err := FromRepository(t.Context(), repo, mode, "")
	if err != nil {
		t.Fatal(err)
	}
	return s, repo
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key    string
		path   strata.Path
		coords strata.ChunkIndices
	}{
		{"zarr.json", "/", nil},
		{"array/zarr.json", "/array", nil},
		{"a/c/zarr.json", "/a/c", nil},
		{"array/c/0/0/1", "/array", strata.ChunkIndices{0, 0, 1}},
		{"g/array/c/12", "/g/array", strata.ChunkIndices{12}},
		{"scalar/c", "/scalar", strata.ChunkIndices{}},
	}
	for _, tt := range tests {
		k, err := parseKey(tt.key)
		if err != nil {
			t.Errorf("parseKey(%q): %v", tt.key, err)
			continue
		}
		if k.path != tt.path || !slices.Equal(k.coords, tt.coords) || k.isChunk() != (tt.coords != nil) {
			t.Errorf("parseKey(%q) = %+v", tt.key, k)
		}
		var back string
		if k.isChunk() {
			back = chunkKey(k.path, k.coords)
		} else {
			back = metadataKey(k.path)
		}
		if back != tt.key {
			t.Errorf("key %q renders back as %q", tt.key, back)
		}
	}

	for _, bad := range []string{"", "/zarr.json", "array//c/0", "array/0/1", "c/0", "array/c/x", "array/data"} {
		if _, err := parseKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("parseKey(%q) err = %v, want ErrInvalidKey", bad, err)
		}
	}
}

func TestStore_VirtualRefsOverS3(t *testing.T) {
	ctx := t.Context()
	client := s3store.NewMockS3Client()
	client.PutRaw("testbucket", "path/to/chunk-1", []byte("first"))
	client.PutRaw("testbucket", "path/to/chunk-2", []byte("second0000"))

	s, _ := newRepoStore(t, ReadWrite,
		strata.WithVirtualStoreFactory(strata.SchemeS3, s3store.VirtualStoreFactory(client)))

	if err := s.Set(ctx, "zarr.json", []byte(`{"zarr_format":3, "node_type":"group"}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "array/zarr.json", []byte(arrayMeta)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "array/zarr.json", strata.AllBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !jsonEqual(t, got, []byte(arrayMeta)) {
		t.Errorf("array/zarr.json = %s\nwant %s", got, arrayMeta)
	}

	ref1 := strata.VirtualPayload{
		// intentional extra '/'
		Location: strata.MustParseVirtualChunkLocation("s3://testbucket///path/to/chunk-1"),
		Offset:   0,
		Length:   5,
	}
	ref2 := strata.VirtualPayload{
		Location: strata.MustParseVirtualChunkLocation("s3://testbucket//path/to/chunk-2"),
		Offset:   1,
		Length:   5,
	}
	if err := s.SetVirtualRef(ctx, "array/c/0/0/0", ref1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetVirtualRef(ctx, "array/c/0/0/1", ref2); err != nil {
		t.Fatal(err)
	}

	if got, err := s.Get(ctx, "array/c/0/0/0", strata.AllBytes()); err != nil || string(got) != "first" {
		t.Errorf("chunk 0 = %q, %v", got, err)
	}
	if got, err := s.Get(ctx, "array/c/0/0/1", strata.AllBytes()); err != nil || string(got) != "econd" {
		t.Errorf("chunk 1 = %q, %v", got, err)
	}
	if err := s.SetVirtualRef(ctx, "array/zarr.json", ref1); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("virtual ref at a metadata key: %v", err)
	}
}

func TestStore_CommitAndReopen(t *testing.T) {
	ctx := t.Context()
	s, repo := newRepoStore(t, ReadWrite)

	if err := s.Set(ctx, "zarr.json", []byte(`{"zarr_format":3,"node_type":"group","attributes":{"title":"demo"}}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "array/zarr.json", []byte(arrayMeta)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "array/c/1/0/1", []byte("chunk")); err != nil {
		t.Fatal(err)
	}
	id, err := s.Commit(ctx, "write array")
	if err != nil {
		t.Fatal(err)
	}
	if tip, _ := repo.BranchTip(ctx, "main"); tip != id {
		t.Errorf("commit did not move main: %s != %s", tip, id)
	}

	ro, err := FromRepository(ctx, repo, ReadOnly, "main")
	if err != nil {
		t.Fatal(err)
	}
	keys, err := ro.ListPrefix(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"array/c/1/0/1", "array/zarr.json", "zarr.json"}
	if !slices.Equal(keys, want) {
		t.Errorf("ListPrefix = %v, want %v", keys, want)
	}
	if keys, _ := ro.ListPrefix(ctx, "array/c/"); !slices.Equal(keys, []string{"array/c/1/0/1"}) {
		t.Errorf("ListPrefix(array/c/) = %v", keys)
	}

	root, err := ro.Get(ctx, "zarr.json", strata.AllBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !jsonEqual(t, root, []byte(`{"zarr_format":3,"node_type":"group","attributes":{"title":"demo"}}`)) {
		t.Errorf("root zarr.json = %s", root)
	}
	if got, err := ro.Get(ctx, "array/c/1/0/1", strata.Bounded(1, 3)); err != nil || string(got) != "hu" {
		t.Errorf("ranged chunk get = %q, %v", got, err)
	}
	if _, err := ro.Get(ctx, "array/c/0/0/0", strata.AllBytes()); !errors.Is(err, strata.ErrNotFound) {
		t.Errorf("unwritten chunk: %v", err)
	}
	if _, err := ro.Get(ctx, "missing/zarr.json", strata.AllBytes()); !errors.Is(err, strata.ErrNotFound) {
		t.Errorf("missing node: %v", err)
	}
	for key, want := range map[string]bool{"array/c/1/0/1": true, "array/c/0/0/0": false, "array/zarr.json": true, "nope/zarr.json": false, "nope/c/0": false} {
		if ok, err := ro.Exists(ctx, key); err != nil || ok != want {
			t.Errorf("Exists(%s) = %v, %v; want %v", key, ok, err, want)
		}
	}
}

func TestStore_ReadOnlyRejectsMutation(t *testing.T) {
	ctx := t.Context()
	s, _ := newRepoStore(t, ReadOnly)
	if s.Mode() != ReadOnly {
		t.Fatalf("mode = %s", s.Mode())
	}
	loc := strata.MustParseVirtualChunkLocation("s3://b/k")
	errs := []error{
		s.Set(ctx, "zarr.json", []byte(`{"zarr_format":3,"node_type":"group"}`)),
		s.SetVirtualRef(ctx, "array/c/0", strata.VirtualPayload{Location: loc, Length: 1}),
		s.Delete(ctx, "zarr.json"),
	}
	_, commitErr := s.Commit(ctx, "nope")
	errs = append(errs, commitErr)
	for i, err := range errs {
		if !errors.Is(err, ErrAccessDenied) {
			t.Errorf("mutation %d: %v, want ErrAccessDenied", i, err)
		}
	}
	if s.Dataset().HasUncommittedChanges() {
		t.Error("read-only store staged changes")
	}
}

func TestStore_SetUpdatesAndDeletes(t *testing.T) {
	ctx := t.Context()
	s, _ := newRepoStore(t, ReadWrite)
	if err := s.Set(ctx, "g/zarr.json", []byte(`{"zarr_format":3,"node_type":"group"}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "g/array/zarr.json", []byte(arrayMeta)); err != nil {
		t.Fatal(err)
	}

	// Updating shape keeps chunks; changing node type is refused.
	bigger := `{"zarr_format":3,"node_type":"array","shape":[4,2,2],"data_type":"int32","chunk_grid":{"name":"regular","configuration":{"chunk_shape":[1,1,1]}},"chunk_key_encoding":{"name":"default","configuration":{"separator":"/"}},"fill_value":0}`
	if err := s.Set(ctx, "g/array/c/0/0/0", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "g/array/zarr.json", []byte(bigger)); err != nil {
		t.Fatal(err)
	}
	n, err := s.Dataset().GetNode(ctx, strata.MustPath("/g/array"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Array.Shape[0] != 4 || n.UserAttributes != nil {
		t.Errorf("updated node = %+v, attrs %s", n.Array.Shape, n.UserAttributes)
	}
	if ok, _ := s.Exists(ctx, "g/array/c/0/0/0"); !ok {
		t.Error("chunk lost on metadata update")
	}
	if err := s.Set(ctx, "g/zarr.json", []byte(bigger)); !errors.Is(err, strata.ErrAlreadyExists) {
		t.Errorf("group to array: %v", err)
	}

	bad := []string{
		`not json`,
		`{"zarr_format":2,"node_type":"group"}`,
		`{"zarr_format":3,"node_type":"table"}`,
		`{"zarr_format":3,"node_type":"array","shape":[2],"data_type":"int32","chunk_grid":{"name":"rectilinear","configuration":{"chunk_shape":[1]}},"chunk_key_encoding":{"name":"default"},"fill_value":0}`,
	}
	for _, doc := range bad {
		if err := s.Set(ctx, "other/zarr.json", []byte(doc)); !errors.Is(err, ErrInvalidMetadata) {
			t.Errorf("Set(%s): %v, want ErrInvalidMetadata", doc, err)
		}
	}

	if err := s.Delete(ctx, "g/array/c/0/0/0"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "g/array/c/0/0/0"); ok {
		t.Error("chunk still exists after Delete")
	}
	if err := s.Delete(ctx, "g/zarr.json"); err != nil {
		t.Fatal(err)
	}
	keys, err := s.ListPrefix(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(keys, []string{"zarr.json"}) {
		t.Errorf("keys after deleting g = %v", keys)
	}
}

func TestStore_DeleteRootMetadataKeepsRoot(t *testing.T) {
	ctx := t.Context()
	s, _ := newRepoStore(t, ReadWrite)
	if err := s.Set(ctx, "g/zarr.json", []byte(`{"zarr_format":3,"node_type":"group"}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "g/array/zarr.json", []byte(arrayMeta)); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "zarr.json"); err != nil {
		t.Fatal(err)
	}
	keys, err := s.ListPrefix(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(keys, []string{"zarr.json"}) {
		t.Errorf("keys after deleting the root = %v, want only zarr.json", keys)
	}
	if err := s.Set(ctx, "array/zarr.json", []byte(arrayMeta)); err != nil {
		t.Fatalf("Set under root after deleting root: %v", err)
	}
	if ok, err := s.Exists(ctx, "array/zarr.json"); err != nil || !ok {
		t.Errorf("Exists(array/zarr.json) = %v, %v", ok, err)
	}
}

func TestMetadata_KeyEncodings(t *testing.T) {
	for _, enc := range []strata.ChunkKeyEncoding{strata.ChunkKeySlash, strata.ChunkKeyDot, strata.ChunkKeyV2} {
		back, err := decodeKeyEncoding(encodeKeyEncoding(enc))
		if err != nil || back != enc {
			t.Errorf("%s round trip = %s, %v", enc, back, err)
		}
	}
}
