package astiavreader

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func TestDictionaryOptions(t *testing.T) {
	d, err := DictionaryOptions{}.dictionary()
	require.NoError(t, err)
	require.Nil(t, d)

	o := NewCommaDictionaryOptions("probesize=%d,fflags=%s", 32, "nobuffer")
	require.Equal(t, DictionaryOptions{
		KeyValueSeparator: "=",
		PairsSeparator:    ",",
		String:            "probesize=32,fflags=nobuffer",
	}, o)
	o.Values = map[string]string{"probesize": "64", "threads": "2"}
	d, err = o.dictionary()
	require.NoError(t, err)
	defer freeDictionary(d)
	require.Equal(t, "64", d.Get("probesize", nil, astiav.NewDictionaryFlags()).Value())
	require.Equal(t, "nobuffer", d.Get("fflags", nil, astiav.NewDictionaryFlags()).Value())
	require.Equal(t, "2", d.Get("threads", nil, astiav.NewDictionaryFlags()).Value())

	d2, err := NewValuesDictionaryOptions(map[string]string{"k": "v"}).dictionary()
	require.NoError(t, err)
	defer freeDictionary(d2)
	require.Equal(t, "v", d2.Get("k", nil, astiav.NewDictionaryFlags()).Value())
}
