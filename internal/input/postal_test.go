package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadInlineCodes(t *testing.T) {
	t.Parallel()

	codes, err := Load(Options{Codes: []string{"80331", " 1067 ", "abc", "80331", "10115"}}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"80331", "01067", "10115"}, codes)
}

func TestLoadFileWithStartAndLimit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plz_full.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1067, "10115", 20095, "80331", 50667]`), 0o600))

	codes, err := Load(Options{File: path, Start: 1, Limit: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"10115", "20095"}, codes)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(Options{}, nil)
	require.ErrorIs(t, err, ErrNoPostalCodes)

	_, err = Load(Options{Codes: []string{"80331"}, Start: 5}, nil)
	require.ErrorIs(t, err, ErrNoPostalCodes)

	_, err = Load(Options{File: filepath.Join(t.TempDir(), "missing.json")}, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoPostalCodes)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"plz": "80331"}`), 0o600))
	_, err = Load(Options{File: path}, nil)
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "80331", want: "80331"},
		{in: "1067", want: "01067"},
		{in: " 99 ", want: "00099"},
		{in: "", wantErr: true},
		{in: "+1234", wantErr: true},
		{in: "123456", wantErr: true},
		{in: "12a45", wantErr: true},
	}
	for _, tc := range tests {
		got, err := Normalize(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestParseJSONRejectsNonScalarEntries(t *testing.T) {
	t.Parallel()

	_, err := ParseJSON([]byte(`["80331", true]`))
	require.Error(t, err)

	got, err := ParseJSON([]byte(`["80331", 1067]`))
	require.NoError(t, err)
	require.Equal(t, []string{"80331", "1067"}, got)
}
