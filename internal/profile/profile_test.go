package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/storage"
)

func intPtr(v int) *int { return &v }

func TestDefaultProfile(t *testing.T) {
	snap := MustDefault()

	assert.Equal(t, "default", snap.Profile.Name)
	assert.Equal(t, domain.DefaultWeights(), snap.Profile.Retrieval.Weights)
	assert.Equal(t, 220, snap.Profile.Citations.SnippetLength)
	assert.Equal(t, "#", snap.Profile.Citations.NoLinkURL)
	assert.NotEmpty(t, snap.Version)
}

func TestDefaultProfile_Normalization(t *testing.T) {
	n := MustDefault().Normalizer

	assert.Equal(t, "control4 app cannot login", n.Normalize("control 4 app won't login"))
	assert.Equal(t, "my wifi cannot connect", n.Normalize("My Wi-Fi  can’t connect"))
	assert.Equal(t, "firmware update", n.Normalize("Firm ware update"))
}

func TestDefaultProfile_Handoff(t *testing.T) {
	snap := MustDefault()
	classify := func(q, a string, count int) bool {
		return snap.Classifier.NeedsHuman(snap.Normalizer.Normalize(q), a, count)
	}

	assert.False(t, classify("hi there", "Hello! How can I help?", 0))
	assert.True(t, classify("my remote won't pair", "Let me check.", 0))
	assert.False(t, classify("thanks!", "You're welcome!", 0))
	assert.True(t, classify("hi, my remote won't pair", "Hello!", 0))
	assert.True(t, classify("how do I reset the hub?", "I couldn't find that in our documentation.", 4))
	assert.False(t, classify("how do I reset the hub?", "Hold the reset button for 10 seconds [#1].", 4))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad toml", "persona = "},
		{"missing persona", "name = \"x\"\n"},
		{"negative weight", "persona = \"p\"\n[retrieval.weights]\nw_semantic = -1.0\nw_lexical = 1.0\n"},
		{"bad rewrite", "persona = \"p\"\n[[rewrites]]\npattern = \"a\"\nreplacement = \"aa\"\n"},
		{"bad rule", "persona = \"p\"\n[[handoff]]\ntarget = \"query\"\npattern = \"x\"\nverdict = \"non_answer\"\n"},
		{"top_k above max", "persona = \"p\"\n[retrieval]\ntop_k = 30\nmax_top_k = 25\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	snap, err := Parse([]byte("persona = \"Be helpful.\"\n"))
	require.NoError(t, err)

	r := snap.Profile.Retrieval
	assert.Equal(t, 10, r.TopK)
	assert.Equal(t, 25, r.MaxTopK)
	assert.Equal(t, domain.DefaultWeights(), r.Weights)
	assert.Equal(t, "Knowledge base article", snap.Profile.Citations.DefaultTitle)
}

func TestParse_PartialProfileKeepsDefaults(t *testing.T) {
	doc := "persona = \"x\"\n" +
		"[retrieval]\ntop_k = 5\n" +
		"[retrieval.weights]\nw_lexical = 0.8\n"
	snap, err := Parse([]byte(doc))
	require.NoError(t, err)

	r := snap.Profile.Retrieval
	assert.Equal(t, 5, r.TopK)
	assert.Equal(t, 4, r.ResolveHistory(nil))
	assert.Equal(t, 250, r.MaxCandidates)
	assert.InDelta(t, 0.1, r.TrigramFloor, 1e-9)
	assert.Equal(t, domain.Weights{Semantic: 0.55, Lexical: 0.8, Trigram: 0.10}, r.Weights)
}

func TestParse_ExplicitZeroHistory(t *testing.T) {
	snap, err := Parse([]byte("persona = \"x\"\n[retrieval]\nmax_history = 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Profile.Retrieval.ResolveHistory(nil))
}

func TestDefaultProfile_NormalizationIsIdempotent(t *testing.T) {
	n := MustDefault().Normalizer

	inputs := []string{
		"i can  not login",
		"i can\tnot pair",
		"My Wi - Fi can't connect",
		"control 4 app won't log  in",
		"Sign In fails",
		"thanks!",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		assert.Equal(t, once, n.Normalize(once), "input %q", in)
	}
	assert.Equal(t, "i cannot login", n.Normalize("i can  not login"))
	assert.Equal(t, "i cannot pair", n.Normalize("i can\tnot pair"))
	assert.Equal(t, "control4 app cannot login", n.Normalize("control 4 app won't log  in"))
}

func TestRetrievalSettings_Resolve(t *testing.T) {
	r := MustDefault().Profile.Retrieval

	assert.Equal(t, 10, r.ResolveTopK(nil))
	assert.Equal(t, 1, r.ResolveTopK(intPtr(0)))
	assert.Equal(t, 1, r.ResolveTopK(intPtr(-3)))
	assert.Equal(t, 25, r.ResolveTopK(intPtr(100)))
	assert.Equal(t, 7, r.ResolveTopK(intPtr(7)))

	assert.Equal(t, 4, r.ResolveHistory(nil))
	assert.Equal(t, 0, r.ResolveHistory(intPtr(-1)))
	assert.Equal(t, 2, r.ResolveHistory(intPtr(2)))

	sem := 0.9
	w := r.ResolveWeights(&sem, nil, nil)
	assert.Equal(t, domain.Weights{Semantic: 0.9, Lexical: 0.35, Trigram: 0.10}, w)
}

func TestRetrievalSettings_CandidateLimit(t *testing.T) {
	r := MustDefault().Profile.Retrieval

	assert.Equal(t, 20, r.CandidateLimit(1))
	assert.Equal(t, 100, r.CandidateLimit(10))
	assert.Equal(t, 250, r.CandidateLimit(25))
}

func TestStore_ReloadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.toml")
	require.NoError(t, os.WriteFile(path, Default(), 0o644))

	store := NewStore(MustDefault(), &FileSource{Path: path}, nil)
	initial := store.Current()

	changed, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "identical content should not swap the snapshot")
	assert.Same(t, initial, store.Current())

	doc := "name = \"edited\"\npersona = \"Be brief.\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	changed, err = store.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "edited", store.Current().Profile.Name)
	assert.Equal(t, "default", initial.Profile.Name)
}

func TestStore_InvalidReloadKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte("persona = "), 0o644))

	initial := MustDefault()
	store := NewStore(initial, &FileSource{Path: path}, nil)

	_, err := store.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, initial, store.Current())
}

func TestStore_NilSource(t *testing.T) {
	store := NewStore(MustDefault(), nil, nil)
	changed, err := store.Reload(context.Background())
	assert.NoError(t, err)
	assert.False(t, changed)
}

type MockObjectGetter struct {
	mock.Mock
}

func (m *MockObjectGetter) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Object), args.Error(1)
}

func (m *MockObjectGetter) HeadObject(ctx context.Context, key string) (*storage.ObjectMetadata, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.ObjectMetadata), args.Error(1)
}

func TestS3Source_SkipsUnchangedObject(t *testing.T) {
	client := new(MockObjectGetter)
	client.On("HeadObject", mock.Anything, "profiles/support.toml").
		Return(&storage.ObjectMetadata{ETag: `"abc"`}, nil)
	client.On("GetObject", mock.Anything, "profiles/support.toml").
		Return(&storage.Object{Body: Default(), ObjectMetadata: storage.ObjectMetadata{ETag: `"abc"`}}, nil).Once()

	src := &S3Source{Client: client, Key: "profiles/support.toml"}
	store := NewStore(MustDefault(), src, nil)

	_, err := store.Reload(context.Background())
	require.NoError(t, err)
	_, err = store.Reload(context.Background())
	require.NoError(t, err)

	client.AssertNumberOfCalls(t, "HeadObject", 2)
	client.AssertNumberOfCalls(t, "GetObject", 1)
}

func TestStore_ProcessJobs(t *testing.T) {
	client := new(MockObjectGetter)
	client.On("HeadObject", mock.Anything, "p.toml").Return(nil, storage.ErrObjectNotFound)

	store := NewStore(MustDefault(), &S3Source{Client: client, Key: "p.toml"}, nil)
	err := store.ProcessJobs(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}
