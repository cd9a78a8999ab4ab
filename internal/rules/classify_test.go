package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mops-cli/internal/model"
)

func cand(desc, file string) model.ReportCandidate {
	return model.ReportCandidate{Description: desc, FilenameHint: file, Quarter: 1}
}

func TestClassify_PrimaryKeyword(t *testing.T) {
	r := Classify(cand("IFRSs個別財報", "202401_8272_AI3.pdf"), Default(), false)
	assert.True(t, r.Matched)
	assert.Equal(t, model.TierPrimary, r.Tier)
	assert.Equal(t, "matched primary keyword: IFRSs個別財報", r.Reason)
}

func TestClassify_FilenamePattern(t *testing.T) {
	r := Classify(cand("財務報告", "202401_2330_A12.pdf"), Default(), true)
	assert.True(t, r.Matched)
	assert.Equal(t, model.TierPrimary, r.Tier)
	assert.Contains(t, r.Reason, ReasonFilename)
}

func TestClassify_ConsolidatedOnly(t *testing.T) {
	c := cand("IFRSs合併財報", "202401_2330_AI1.pdf")

	r := Classify(c, Default(), false)
	assert.True(t, r.Matched)
	assert.Equal(t, model.TierSecondary, r.Tier)
	assert.Equal(t, "matched flexible fallback: IFRSs合併財報", r.Reason)

	r = Classify(c, Default(), true)
	assert.False(t, r.Matched)
	assert.Equal(t, model.TierRejected, r.Tier)
	assert.Equal(t, ReasonNoMatch, r.Reason)
}

func TestClassify_ExclusionWins(t *testing.T) {
	tbl := Default()

	r := Classify(cand("IFRSs個別財報 英文版", "202401_2330_A12.pdf"), tbl, false)
	assert.False(t, r.Matched)
	assert.Equal(t, "excluded by rule: 英文版", r.Reason)

	r = Classify(cand("IFRSs個別財報", "202401_2330_AIA.pdf"), tbl, false)
	assert.False(t, r.Matched)
	assert.Equal(t, `excluded by rule: AIA\.pdf$`, r.Reason)
}

func TestClassify_Deterministic(t *testing.T) {
	c := cand("IFRSs合併財報", "x_AE1.pdf")
	tbl := Default()
	first := Classify(c, tbl, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(c, tbl, false))
	}
}

func TestClassify_StrictNeverWidens(t *testing.T) {
	tbl := Default()
	cases := []model.ReportCandidate{
		cand("IFRSs個別財報", "a_AI3.pdf"),
		cand("IFRSs合併財報", "a_AI1.pdf"),
		cand("財務報告書", "a_A15.pdf"),
		cand("其他", "a_B01.pdf"),
		cand("英文版 IFRSs個別財報", "a_AE2.pdf"),
	}
	for _, c := range cases {
		strict := Classify(c, tbl, true)
		loose := Classify(c, tbl, false)
		if strict.Matched {
			assert.True(t, loose.Matched, c.String())
			assert.GreaterOrEqual(t, loose.Tier.Rank(), strict.Tier.Rank(), c.String())
		}
	}
}

func TestSelectBest(t *testing.T) {
	tbl := Default()
	results := ClassifyAll([]model.ReportCandidate{
		cand("IFRSs合併財報", "a_AI1.pdf"),
		cand("英文版", "a_AE2.pdf"),
		cand("IFRSs個別財報", "a_AI3.pdf"),
		cand("IFRSs個體財報", "a_AI4.pdf"),
	}, tbl, false)

	best, ok := SelectBest(results)
	require.True(t, ok)
	assert.Equal(t, "a_AI3.pdf", best.Candidate.FilenameHint)

	_, ok = SelectBest(ClassifyAll([]model.ReportCandidate{cand("其他", "a_B01.pdf")}, tbl, false))
	assert.False(t, ok)

	_, ok = SelectBest(nil)
	assert.False(t, ok)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Spec{Version: "x", PrimaryKeywords: []string{"a"}, FilenamePatterns: []string{"("}})
	require.Error(t, err)
	assert.Equal(t, model.ErrConfiguration, model.KindOf(err))

	_, err = New(Spec{Version: "x", FlexibleKeywords: []string{"a"}})
	require.Error(t, err)
	assert.True(t, model.IsFatal(err))

	_, err = New(Spec{PrimaryKeywords: []string{" "}})
	require.Error(t, err)
}

func TestTable_SpecIsCopy(t *testing.T) {
	tbl := Default()
	s := tbl.Spec()
	s.PrimaryKeywords[0] = "changed"
	assert.Equal(t, "IFRSs個別財報", tbl.Spec().PrimaryKeywords[0])
	assert.Equal(t, DefaultVersion, tbl.Version())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	body := "version: test.2\nprimary_keywords:\n  - 個體\nflexible_keywords:\n  - 合併\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	spec, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test.2", spec.Version)

	tbl, err := New(spec)
	require.NoError(t, err)
	r := Classify(cand("合併報表", ""), tbl, false)
	assert.Equal(t, model.TierSecondary, r.Tier)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, model.ErrConfiguration, model.KindOf(err))
}
