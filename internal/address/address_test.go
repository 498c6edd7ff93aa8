package address

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Address
	}{
		{
			name: "street then postal line",
			in:   "Hauptstraße 12\n12345 Musterstadt",
			want: Address{Street: "Hauptstraße 12", PostalCode: "12345", City: "Musterstadt"},
		},
		{
			name: "single line with comma",
			in:   "Sendlinger Str. 3, 80331 München",
			want: Address{Street: "Sendlinger Str. 3", PostalCode: "80331", City: "München"},
		},
		{
			name: "shop name above street",
			in:   "Bio Markt Sonnenschein\nLindenallee 7a\n10115 Berlin",
			want: Address{Street: "Lindenallee 7a", PostalCode: "10115", City: "Berlin"},
		},
		{
			name: "country prefix and trailing punctuation",
			in:   "Am Markt 1\nD-04109 Leipzig.",
			want: Address{Street: "Am Markt 1", PostalCode: "04109", City: "Leipzig"},
		},
		{
			name: "postal code inside a line",
			in:   "Hauptstr. 5 12345 Musterstadt",
			want: Address{Street: "Hauptstr. 5", PostalCode: "12345", City: "Musterstadt"},
		},
		{
			name: "street without house number",
			in:   "Marktplatz\n12345 Musterstadt",
			want: Address{Street: "Marktplatz", PostalCode: "12345", City: "Musterstadt"},
		},
		{
			name: "only postal line",
			in:   "12345 Musterstadt",
			want: Address{PostalCode: "12345", City: "Musterstadt"},
		},
		{
			name: "no postal code keeps text as street",
			in:   "  Wochenmarkt am Rathaus\nSamstags  ",
			want: Address{Street: "Wochenmarkt am Rathaus Samstags"},
		},
		{
			name: "no postal code keeps commas and digits as typed",
			in:   "Hofladen am Feld,\n  Hauptstraße 12 ",
			want: Address{Street: "Hofladen am Feld, Hauptstraße 12"},
		},
		{
			name: "no postal code joins lines with a space",
			in:   "Hofladen am Feld\nHauptstraße 12",
			want: Address{Street: "Hofladen am Feld Hauptstraße 12"},
		},
		{
			name: "whitespace only",
			in:   " \n\t ",
			want: Address{},
		},
		{
			name: "multiple-space collapse",
			in:   "Hauptstraße   12\n12345    Neustadt an der  Weinstraße",
			want: Address{Street: "Hauptstraße 12", PostalCode: "12345", City: "Neustadt an der Weinstraße"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Parse(tc.in))
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Hauptstraße 12, 12345 Musterstadt",
		"Hauptstraße 12\n12345 Musterstadt",
		"Am Markt 1\nD-04109 Leipzig",
		"Hauptstr. 5 12345 Musterstadt",
		"Marktplatz\n12345 Musterstadt",
		"12345 Musterstadt",
		"Wochenmarkt am Rathaus\nSamstags",
	}
	for _, in := range inputs {
		first := Parse(in)
		require.Equal(t, first, Parse(Format(first)), "input %q", in)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Hauptstraße 12, 12345 Musterstadt",
		Format(Address{Street: "Hauptstraße 12", PostalCode: "12345", City: "Musterstadt"}))
	require.Equal(t, "12345 Musterstadt", Address{PostalCode: "12345", City: "Musterstadt"}.String())
	require.Equal(t, "Hauptstraße 12", Format(Address{Street: "Hauptstraße 12"}))
	require.Empty(t, Format(Address{}))
	require.True(t, Address{}.IsZero())
}

func TestHasPostalLine(t *testing.T) {
	t.Parallel()

	require.True(t, HasPostalLine(" 12345 Musterstadt"))
	require.True(t, HasPostalLine("D-80331 München"))
	require.False(t, HasPostalLine("Hauptstraße 12"))
	require.False(t, HasPostalLine("1234 Wien"))
}
