package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeDiagnosisMatrix(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want DiagnosisEvent
	}{
		{name: "log line", raw: `{"type":"log","data":"searching"}`, want: Log{Line: "searching"}},
		{name: "empty log ignored", raw: `{"type":"log","data":""}`, want: nil},
		{
			name: "extracted nested keywords",
			raw:  `{"status":"extracted","data":{"search_keywords":[["verb","agreement"]]}}`,
			want: Extracted{Keywords: []string{"verb", "agreement"}},
		},
		{
			name: "extracted non-array keywords",
			raw:  `{"status":"extracted","data":{"search_keywords":"verb"}}`,
			want: Extracted{Keywords: []string{}},
		},
		{name: "extracted without data ignored", raw: `{"status":"extracted"}`, want: nil},
		{
			name: "complete with results",
			raw:  `{"status":"complete","results":[{"title":"T","url":"https://x","snippet":"S"}]}`,
			want: Complete{Results: []Result{{Title: "T", URL: "https://x", Snippet: "S"}}},
		},
		{name: "complete without results ignored", raw: `{"status":"complete"}`, want: nil},
		{
			name: "content defaults missing fields",
			raw:  `{"status":"content","title":"Only title"}`,
			want: Content{Preview: Preview{Title: "Only title"}},
		},
		{name: "error with message", raw: `{"status":"error","message":"quota"}`, want: Failure{Message: "quota"}},
		{name: "error default message", raw: `{"status":"error"}`, want: Failure{Message: DefaultDiagnosisFailure}},
		{name: "unrelated status ignored", raw: `{"status":"searching"}`, want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeDiagnosis([]byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeDiagnosisMalformed(t *testing.T) {
	_, err := DecodeDiagnosis([]byte("not json"))
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestFlattenKeywordsDedupesAndDropsFalsy(t *testing.T) {
	raw := json.RawMessage(`[["verb", "", null], "verb", ["agreement", ["tense", false, 0]], 3]`)
	require.Equal(t, []string{"verb", "agreement", "tense", "3"}, FlattenKeywords(raw))
}

func TestFlattenKeywordsNonArray(t *testing.T) {
	require.Empty(t, FlattenKeywords(json.RawMessage(`{"a":"b"}`)))
	require.Empty(t, FlattenKeywords(nil))
}
