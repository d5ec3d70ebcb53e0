package config

import (
	"flag"
	"fmt"
	"net/url"
	"strings"
)

func parseURL(s string, dest **url.URL) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if _, err = url.ParseQuery(u.RawQuery); err != nil {
		return err
	}
	*dest = u
	return nil
}

func URLVarFlag(fs *flag.FlagSet, dest **url.URL, name, value, usage string) {
	if err := parseURL(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURL(s, dest)
	})
}

// CommaMapFlag parses a key=value,key2=value2 list, e.g. extra request headers
// such as Origin and Referer.
func CommaMapFlag(fs *flag.FlagSet, dest *map[string]string, name string, value map[string]string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		m := map[string]string{}
		if s != "" {
			for _, pair := range strings.Split(s, ",") {
				kv := strings.SplitN(pair, "=", 2)
				if len(kv) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", pair)
				}
				m[kv[0]] = kv[1]
			}
		}
		*dest = m
		return nil
	})
}
