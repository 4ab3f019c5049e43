package brew

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPours(t *testing.T) {
	pours := []Pour{
		{Start: Num(0), End: Num(30), WaterAdded: Num(50)},
		{Start: Num(45), End: Num(75.5), WaterAdded: Num(100)},
	}
	assert.Equal(t, "0-30:50; 45-75.5:100", FormatPours(pours))
	assert.Equal(t, "", FormatPours(nil))
	assert.Equal(t, "-30:", FormatPours([]Pour{{End: Num(30)}}))
}

func TestParsePours_Inverse(t *testing.T) {
	pours := []Pour{
		{Start: Num(0), End: Num(30), WaterAdded: Num(50)},
		{Start: Num(45), End: Num(75.25), WaterAdded: Num(100)},
		{Start: Num(90), End: Num(120), WaterAdded: Num(90)},
	}
	got, err := ParsePours(FormatPours(pours))
	require.NoError(t, err)
	assert.Equal(t, pours, got)
}

func TestParsePours_MinuteSeconds(t *testing.T) {
	got, err := ParsePours("0:00-0:30:50;1:00-1:20:100")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 60.0, *got[1].Start)
	assert.Equal(t, 80.0, *got[1].End)
	assert.Equal(t, 100.0, *got[1].WaterAdded)
}

func TestParsePours_Invalid(t *testing.T) {
	for _, in := range []string{"0-30", "030:50", "a-30:50", "0-30:lots", "0--30:50", "0-30:-50"} {
		_, err := ParsePours(in)
		assert.Error(t, err, in)
	}
}

func TestParsePours_RejectsNegative(t *testing.T) {
	_, err := ParsePours("0-30:50; 30--10:20")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pour 1")
}
