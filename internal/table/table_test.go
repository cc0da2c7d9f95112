package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NormalizesLineEndingsAndBOM(t *testing.T) {
	data := []byte("\xEF\xBB\xBFjob_id,status\r\n1,PENDING\r\n2,RUNNING\r\n\r\n")

	tbl, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"job_id", "status"}, tbl.Header)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "RUNNING", tbl.Get(1, "status"))
}

func TestParse_QuotedPayloadWithCommas(t *testing.T) {
	data := []byte("job_id,instruments_json,status\n" +
		`1,"[{""pk2"":""A"",""isin"":""US1""}]",PENDING` + "\n")

	tbl, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, `[{"pk2":"A","isin":"US1"}]`, tbl.Get(0, "instruments_json"))
	assert.Equal(t, "PENDING", tbl.Get(0, "status"))
}

func TestParse_PadsShortRows(t *testing.T) {
	tbl, err := Parse([]byte("a,b,c\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "", ""}, tbl.Rows[0])
}

func TestParse_KeepsCellsBeyondHeader(t *testing.T) {
	tbl, err := Parse([]byte("a,b\n1,2,3\n4,5\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "overflow_1"}, tbl.Header)
	assert.Equal(t, []string{"1", "2", "3"}, tbl.Rows[0])
	assert.Equal(t, []string{"4", "5", ""}, tbl.Rows[1])

	out, err := tbl.Encode()
	require.NoError(t, err)
	assert.Equal(t, "a,b,overflow_1\n1,2,3\n4,5,\n", string(out))
}

func TestParse_Empty(t *testing.T) {
	tbl, err := Parse([]byte("  \r\n"))
	require.NoError(t, err)
	assert.Empty(t, tbl.Header)
	assert.Zero(t, tbl.Len())
}

func TestEncode_RoundTripsThroughHash(t *testing.T) {
	tbl := New("job_id", "progress")
	tbl.AppendRecord(map[string]string{"job_id": "1", "progress": "Fetching, step 1"})

	data, err := tbl.Encode()
	require.NoError(t, err)
	assert.Equal(t, "job_id,progress\n1,\"Fetching, step 1\"\n", string(data))

	crlf := []byte("job_id,progress\r\n1,\"Fetching, step 1\"\r\n")
	assert.Equal(t, Hash(data), Hash(crlf))
}

func TestEnsureColumns(t *testing.T) {
	tbl := New("a")
	tbl.Rows = [][]string{{"1"}}
	tbl.EnsureColumns("a", "b")

	assert.Equal(t, []string{"a", "b"}, tbl.Header)
	assert.Equal(t, []string{"1", ""}, tbl.Rows[0])
	assert.True(t, tbl.Set(0, "b", "x"))
	assert.False(t, tbl.Set(0, "zzz", "x"))
	assert.Equal(t, map[string]string{"a": "1", "b": "x"}, tbl.Record(0))
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"7", 7, false},
		{" 12 ", 12, false},
		{"3.0", 3, false},
		{"3.5", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInt(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "42", FormatInt(42))
}
