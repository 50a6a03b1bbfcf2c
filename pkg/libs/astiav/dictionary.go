package astiavreader

import (
	"fmt"
	"sort"

	"github.com/asticode/go-astiav"
)

// DictionaryOptions describes libav options. When both are provided, Values are set
// after String has been parsed and therefore win.
type DictionaryOptions struct {
	Flags             astiav.DictionaryFlags
	KeyValueSeparator string
	PairsSeparator    string
	String            string
	Values            map[string]string
}

func NewCommaDictionaryOptions(format string, args ...interface{}) DictionaryOptions {
	return DictionaryOptions{
		KeyValueSeparator: "=",
		PairsSeparator:    ",",
		String:            fmt.Sprintf(format, args...),
	}
}

func NewValuesDictionaryOptions(vs map[string]string) DictionaryOptions {
	return DictionaryOptions{Values: vs}
}

func (o DictionaryOptions) empty() bool {
	return o.String == "" && len(o.Values) == 0
}

// A nil dictionary is valid and means "no options"
func (o DictionaryOptions) dictionary() (d *astiav.Dictionary, err error) {
	// Nothing to do
	if o.empty() {
		return
	}

	// Create dictionary
	d = astiav.NewDictionary()

	// Make sure dictionary is freed on error
	defer func() {
		if err != nil {
			d.Free()
			d = nil
		}
	}()

	// Parse string
	if o.String != "" {
		if err = d.ParseString(o.String, o.KeyValueSeparator, o.PairsSeparator, o.Flags); err != nil {
			err = fmt.Errorf("astiavreader: parsing string failed: %w", err)
			return
		}
	}

	// Set values in a deterministic order
	ks := make([]string, 0, len(o.Values))
	for k := range o.Values {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	for _, k := range ks {
		if err = d.Set(k, o.Values[k], o.Flags); err != nil {
			err = fmt.Errorf("astiavreader: setting %s failed: %w", k, err)
			return
		}
	}
	return
}

func freeDictionary(d *astiav.Dictionary) {
	if d != nil {
		d.Free()
	}
}
