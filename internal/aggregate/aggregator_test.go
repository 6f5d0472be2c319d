package aggregate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/data-power-io/cmdump-templates/internal/dump"
	"github.com/data-power-io/cmdump-templates/internal/logging"
	"github.com/data-power-io/cmdump-templates/internal/template"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// twoGroupTree lays out the scenario used by most tests:
//
//	root/A/x.csv  @Cell  Id,Freq
//	root/A/y.csv  @Cell  Id,Bw   @Nbr  Src
//	root/B/z.csv  @BTS   Id
func twoGroupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "x.csv"), "@Cell\nId,Freq\n1,100\n")
	writeFile(t, filepath.Join(root, "A", "y.csv"), "@Cell\nId,Bw\n2,20\n@Nbr\nSrc\nc1\n")
	writeFile(t, filepath.Join(root, "B", "z.csv"), "@BTS\nId\n7\n")
	return root
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "B", "b.csv"), "@S\nP\n")
	writeFile(t, filepath.Join(root, "A", "nested", "deep", "a2.CSV"), "@S\nP\n")
	writeFile(t, filepath.Join(root, "A", "a1.csv"), "@S\nP\n")
	writeFile(t, filepath.Join(root, "A", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "A", ".cache", "hidden.csv"), "@S\nP\n")
	writeFile(t, filepath.Join(root, ".git", "x.csv"), "@S\nP\n")
	writeFile(t, filepath.Join(root, "stray.csv"), "@S\nP\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty"), 0o755))

	groups, skipped, err := Discover(root, []string{".csv"})
	require.NoError(t, err)

	require.Len(t, groups, 3)
	assert.Equal(t, "A", groups[0].Name)
	assert.Equal(t, "B", groups[1].Name)
	assert.Equal(t, "Empty", groups[2].Name)

	assert.Equal(t, []string{
		filepath.Join(root, "A", "a1.csv"),
		filepath.Join(root, "A", "nested", "deep", "a2.CSV"),
	}, groups[0].Files)
	assert.Empty(t, groups[2].Files)
	assert.Equal(t, []string{filepath.Join(root, "stray.csv")}, skipped)
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, _, err := Discover(filepath.Join(t.TempDir(), "missing"), []string{".csv"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRun_GroupAndGlobalTemplates(t *testing.T) {
	root := twoGroupTree(t)

	agg := New(Options{Parse: dump.DefaultOptions(), Workers: 2}, nil)
	res, err := agg.Run(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	assert.NotEmpty(t, res.RunID)

	a := res.Groups[0]
	assert.Equal(t, "A", a.Name)
	assert.Equal(t, []string{"@Cell", "@Nbr"}, a.Template.Sections())
	assert.Equal(t, []string{"Id", "Freq", "Bw"}, a.Template.Parameters("@Cell"))
	assert.Equal(t, []string{"Src"}, a.Template.Parameters("@Nbr"))
	assert.Equal(t, map[string]int{"@Cell": 2}, a.CategoryCounts())
	assert.Equal(t, 2, a.Processed)

	b := res.Groups[1]
	assert.Equal(t, []string{"@BTS"}, b.Template.Sections())

	require.NotNil(t, res.Global)
	assert.Equal(t, template.GlobalName, res.Global.Name)
	assert.Equal(t, []string{"@Cell", "@Nbr", "@BTS"}, res.Global.Sections())
	assert.Equal(t, []string{"Id", "Freq", "Bw"}, res.Global.Parameters("@Cell"))
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	root := t.TempDir()
	contents := []string{
		"@Cell\nId,Freq\n",
		"@Cell\nBw,Id\n@Nbr\nSrc,Dst\n",
		"@Nbr\nDst,Weight\n@Cell\nPower\n",
		"@Antenna\nTilt\n",
		"@Cell\nFreq,Mode\n",
	}
	for i, c := range contents {
		name := string(rune('a'+len(contents)-1-i)) + ".csv"
		writeFile(t, filepath.Join(root, "G", name), c)
	}

	run := func(workers int) []byte {
		res, err := New(Options{Parse: dump.DefaultOptions(), Workers: workers}, nil).Run(context.Background(), root)
		require.NoError(t, err)
		return res.Groups[0].Template.Bytes()
	}

	serial := run(1)
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(string(serial), string(run(8))); diff != "" {
			t.Fatalf("parallel run differs from serial run (-serial +parallel):\n%s", diff)
		}
	}
}

func TestRun_EmptyAndFailedGroupsYieldEmptyTemplates(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty"), 0o755))
	writeFile(t, filepath.Join(root, "Broken", "bad.csv"), "@Cell\nId\n\xff\xfe\n")
	writeFile(t, filepath.Join(root, "Blank", "blank.csv"), "\n\n")

	res, err := New(Options{Parse: dump.DefaultOptions(), Workers: 4}, nil).Run(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Groups, 3)

	for _, g := range res.Groups {
		assert.Equal(t, 0, g.Template.Len(), g.Name)
		assert.Equal(t, "", string(g.Template.Bytes()), g.Name)
	}

	broken := res.Groups[1]
	assert.Equal(t, "Broken", broken.Name)
	require.Len(t, broken.Failures, 1)
	assert.True(t, errors.Is(broken.Failures[0], dump.ErrInvalidEncoding))
	assert.Len(t, res.Failures(), 1)

	require.NotNil(t, res.Global)
	assert.Equal(t, 0, res.Global.Len())
}

func TestRun_FailedFileDoesNotStopGroup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "G", "a.csv"), "@Cell\nId\n")
	writeFile(t, filepath.Join(root, "G", "b.csv"), "@Bad\n\xff\n")
	writeFile(t, filepath.Join(root, "G", "c.csv"), "@Nbr\nSrc\n")

	res, err := New(Options{Parse: dump.DefaultOptions(), Workers: 3}, nil).Run(context.Background(), root)
	require.NoError(t, err)

	g := res.Groups[0]
	assert.Equal(t, 3, g.Processed)
	assert.Len(t, g.Failures, 1)
	assert.Len(t, g.Parsed(), 2)
	assert.Equal(t, []string{"@Cell", "@Nbr"}, g.Template.Sections())
}

func TestFold_Idempotent(t *testing.T) {
	root := twoGroupTree(t)
	agg := New(Options{Parse: dump.DefaultOptions()}, nil)
	ctx := context.Background()

	r := agg.ParseFile(ctx, "A", filepath.Join(root, "A", "y.csv"))
	require.True(t, r.OK())

	once := newGroupResult("A")
	agg.Fold(once, r)
	twice := newGroupResult("A")
	agg.Fold(twice, r)
	agg.Fold(twice, r)

	if diff := cmp.Diff(once.Template.Map(), twice.Template.Map()); diff != "" {
		t.Fatalf("folding twice changed the template (-once +twice):\n%s", diff)
	}
	assert.Equal(t, 2, twice.Processed)
}

func TestFold_SkipsEmptyDocuments(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "G", "orphans.csv")
	writeFile(t, path, "a,b\nc,d\n")

	agg := New(Options{Parse: dump.DefaultOptions()}, nil)
	r := agg.ParseFile(context.Background(), "G", path)
	require.True(t, r.OK())
	assert.Equal(t, 0, r.Sections)
	assert.Equal(t, 2, r.Stats.OrphanRows)

	g := newGroupResult("G")
	agg.Fold(g, r)
	assert.Equal(t, 0, g.Template.Len())
	assert.Empty(t, g.Categories)
	assert.Equal(t, 1, g.Processed)
}

type recordingSink struct {
	mu     sync.Mutex
	paths  []string
	err    error
	onCall func(group string)
}

func (s *recordingSink) Consume(_ context.Context, group, path string, _ *dump.Document) error {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	if s.onCall != nil {
		s.onCall(group)
	}
	return s.err
}

func TestRun_SinkReceivesEveryDocument(t *testing.T) {
	root := twoGroupTree(t)
	sink := &recordingSink{}

	_, err := New(Options{Parse: dump.DefaultOptions(), Workers: 2, Sink: sink}, nil).Run(context.Background(), root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "A", "x.csv"),
		filepath.Join(root, "A", "y.csv"),
		filepath.Join(root, "B", "z.csv"),
	}, sink.paths)
}

func TestRun_SinkErrorIsNotFatal(t *testing.T) {
	root := twoGroupTree(t)
	sink := &recordingSink{err: errors.New("disk full")}

	res, err := New(Options{Parse: dump.DefaultOptions(), Sink: sink}, nil).Run(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, res.Global)
	assert.Equal(t, 3, res.Global.Len())
	for _, f := range res.Groups[0].Files {
		assert.True(t, f.OK())
		assert.EqualError(t, f.SinkErr, "disk full")
	}
}

func TestRun_CancellationKeepsCompletedGroups(t *testing.T) {
	root := twoGroupTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{onCall: func(group string) {
		if group == "B" {
			cancel()
		}
	}}

	res, err := New(Options{Parse: dump.DefaultOptions(), Workers: 1, Sink: sink}, nil).Run(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "A", res.Groups[0].Name)
	assert.Nil(t, res.Global)
}

func TestRunGroup_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := New(Options{Parse: dump.DefaultOptions()}, nil)
	gr, err := agg.RunGroup(ctx, Group{Name: "G", Files: []string{"does-not-matter.csv"}})
	assert.Nil(t, gr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParameterIndex(t *testing.T) {
	doc := dump.ParseRows([][]string{
		{"@Cell"}, {"Id", "Freq"},
		{"@Nbr"}, {"Src", "Id"},
		{"@Cell"}, {"Freq", "Bw"},
	}, dump.DefaultOptions())

	idx := NewParameterIndex(doc)
	assert.Equal(t, []string{"@Cell", "@Nbr"}, idx.Sections())
	assert.Equal(t, []string{"Id", "Freq", "Bw"}, idx.Parameters("@Cell"))
	assert.Equal(t, []string{"Id", "Freq", "Bw", "Src"}, idx.All())

	var zero ParameterIndex
	assert.Nil(t, zero.Sections())
	assert.Nil(t, zero.All())
}

func TestParseFile_ReportsParameterWithSeparator(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "A", "x.csv")
	writeFile(t, path, "@Cell\nId,\"Freq, Band\"\n1,2\n")

	core, logs := observer.New(zap.WarnLevel)
	agg := New(Options{Workers: 1}, &logging.Logger{Logger: zap.New(core)})

	res := agg.ParseFile(context.Background(), "A", path)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"Id", "Freq, Band"}, res.Index.Parameters("@Cell"))

	entries := logs.FilterMessage("Data quality issue").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "parameter_contains_separator", ctx["issue"])
	assert.Equal(t, int64(1), ctx["count"])
}

func TestNew_Defaults(t *testing.T) {
	agg := New(Options{}, nil)
	assert.NotEmpty(t, agg.RunID())
	assert.GreaterOrEqual(t, agg.opts.Workers, 1)
	assert.Equal(t, []string{".csv"}, agg.opts.Extensions)

	fixed := New(Options{RunID: "run-1"}, nil)
	assert.Equal(t, "run-1", fixed.RunID())
}
