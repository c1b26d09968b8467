package venue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	rules, err := DefaultRules()
	require.NoError(t, err)
	return NewResolver(rules)
}

var resolveCases = []struct {
	name string
	raw  string
	want string
}{
	{"empty", "", ""},
	{"blank", "   ", ""},
	{"english brand with city and hall", "National Museum of Modern Art Seoul Hall B", "국립현대미술관 (서울)"},
	{"korean branch suffix", "국립현대미술관 과천관", "국립현대미술관 (과천)"},
	{"bare brand gets default branch", "국립현대미술관", "국립현대미술관 (서울)"},
	{"abbreviation with branch", "MMCA Deoksugung", "국립현대미술관 (덕수궁)"},
	{"specific branch beats city", "국립현대미술관 덕수궁관 (서울 중구)", "국립현대미술관 (덕수궁)"},
	{"branch name alone", "북서울미술관", "서울시립미술관 (북서울)"},
	{"hyphenated english branch", "Buk-Seoul Museum of Art", "서울시립미술관 (북서울)"},
	{"branch with floor", "서울시립미술관 서소문본관 2층", "서울시립미술관 (서소문본관)"},
	{"compound korean", "예술의전당 한가람미술관 제1전시실", "한가람미술관"},
	{"compound design museum", "예술의 전당 한가람디자인미술관", "한가람디자인미술관"},
	{"compound english", "Seoul Arts Center Hangaram Art Museum", "한가람미술관"},
	{"noise parenthetical", "대림미술관 (2층 전시실)", "대림미술관"},
	{"floor suffix", "갤러리현대 2층", "갤러리현대"},
	{"basement suffix", "아트선재센터 B1층", "아트선재센터"},
	{"location parenthetical kept", "부산현대미술관 (부산)", "부산현대미술관 (부산)"},
	{"location parenthetical moved after suffix strip", "아트센터 2층 (부산)", "아트센터 (부산)"},
	{"alias english", "D Museum", "디뮤지엄"},
	{"alias short", "리움", "리움미술관"},
	{"alias after cleaning", "동대문디자인플라자 (DDP)", "DDP"},
	{"english hall designator", "Arko Art Center Hall 2", "Arko Art Center"},
	{"hall without designator kept", "Carnegie Hall", "Carnegie Hall"},
	{"annex qualifier", "피크닉 본관", "피크닉"},
	{"fullwidth parentheses", "대림미술관（3층）", "대림미술관"},
	{"unknown name untouched", "갤러리 바톤", "갤러리 바톤"},
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t)
	for _, tt := range resolveCases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.raw))
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := newTestResolver(t)

	inputs := []string{
		"국립현대미술관 서울관 3층", "MMCA 청주", "Seoul Museum of Art",
		"서울시립미술관 (남서울)", "국립민속박물관 파주", "national folk museum of korea",
		"세종문화회관 미술관 1관", "Sejong Center Museum of Art", "한가람 미술관",
		"OO갤러리 제2전시관", "Room 1 Gallery", "어딘가 (서울) 2층 (부산)",
		"Foo Gallery (Hall (2))", "OO갤러리 (B홀 (2층))", "OO갤러리 [서울 (본관)]",
		"OO갤러리 (서울", "OO갤러리 서울)", "((서울))", "Foo (Bar] Gallery", ")(",
	}
	for _, tt := range resolveCases {
		inputs = append(inputs, tt.raw)
	}
	inputs = append(inputs, r.rules.Canonicals()...)

	for _, in := range inputs {
		once := r.Resolve(in)
		assert.Equal(t, once, r.Resolve(once), "input %q", in)
	}
}

func TestResolve_NestedParentheticals(t *testing.T) {
	r := newTestResolver(t)
	assert.Equal(t, "Foo Gallery", r.Resolve("Foo Gallery (Hall (2))"))
	assert.Equal(t, "OO갤러리", r.Resolve("OO갤러리 (B홀 (2층))"))
	assert.Equal(t, "OO갤러리", r.Resolve("OO갤러리 B홀)"))
}

func TestSplitGroups(t *testing.T) {
	tests := []struct {
		in     string
		base   string
		groups []string
	}{
		{"a (b) c", "a   c", []string{"b"}},
		{"a (b (c)) d", "a   d", []string{"b (c)"}},
		{"a [b] (c", "a    ", []string{"b", "c"}},
		{"a ) b", "a   b", nil},
	}
	for _, tt := range tests {
		base, groups := splitGroups(tt.in)
		assert.Equal(t, tt.base, base, "input %q", tt.in)
		assert.Equal(t, tt.groups, groups, "input %q", tt.in)
	}
}

func TestResolve_CanonicalsAreFixedPoints(t *testing.T) {
	r := newTestResolver(t)
	for _, c := range r.rules.Canonicals() {
		assert.Equal(t, c, r.Resolve(c))
	}
}

func TestResolve_BranchPrecedence(t *testing.T) {
	r := newTestResolver(t)
	for _, raw := range []string{
		"국립현대미술관 청주",
		"청주 국립현대미술관 수장고",
		"National Museum of Modern and Contemporary Art, Cheongju",
	} {
		got := r.Resolve(raw)
		assert.Equal(t, "국립현대미술관 (청주)", got, "input %q", raw)
		assert.NotEqual(t, "국립현대미술관", got)
	}
}

func TestResolve_TerminalTokenNeverStripped(t *testing.T) {
	rules, err := LoadRules([]byte(`
suffixes:
  - '\s+\S+$'
`))
	require.NoError(t, err)
	r := NewResolver(rules)

	assert.Equal(t, "Foo Museum", r.Resolve("Foo Museum"))
	assert.Equal(t, "Foo", r.Resolve("Foo Bar Baz"))
}

func TestResolver_Learn(t *testing.T) {
	r := newTestResolver(t)
	r.Learn("갤러리 바톤", "대림 미술관", "")

	assert.Equal(t, "갤러리 바톤", r.Resolve("갤러리바톤"))
	assert.Equal(t, "갤러리 바톤", r.Resolve("갤러리 바톤"))
	// Not canonical, so not learned.
	assert.Equal(t, "대림미술관", r.Resolve("대림 미술관"))
}

func TestResolver_CacheBounded(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)
	r := NewResolver(rules, WithCacheSize(2))

	for _, s := range []string{"a", "b", "c", "d"} {
		r.Resolve(s)
	}
	assert.LessOrEqual(t, len(r.cache), 2)
}

func TestResolver_ConcurrentUse(t *testing.T) {
	r := newTestResolver(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, tt := range resolveCases {
				assert.Equal(t, tt.want, r.Resolve(tt.raw))
			}
		}()
	}
	wg.Wait()
}

func TestLoadRules_Errors(t *testing.T) {
	_, err := LoadRules([]byte("compound:\n  - pattern: '('\n    canonical: x\n"))
	assert.Error(t, err)

	_, err = LoadRules([]byte("aliases:\n  a: [x]\n  b: [x]\n"))
	assert.Error(t, err)

	_, err = LoadRules([]byte("branches:\n  - brand: x\n"))
	assert.Error(t, err)
}

func TestCompactKey(t *testing.T) {
	assert.Equal(t, "dmuseum", CompactKey("D-Museum"))
	assert.Equal(t, "한가람미술관", CompactKey(" 한가람 미술관 "))
	assert.Equal(t, "ddp", CompactKey("ＤＤＰ"))
}
