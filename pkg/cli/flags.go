package cli

import "github.com/spf13/pflag"

// FlagAliases maps multi-letter short names such as --ep onto their long flag.
func FlagAliases(names map[string]string) func(*pflag.FlagSet, string) pflag.NormalizedName {
	return func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if long, ok := names[name]; ok {
			return pflag.NormalizedName(long)
		}
		return pflag.NormalizedName(name)
	}
}
