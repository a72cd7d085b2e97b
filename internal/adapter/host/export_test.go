//go:build unix

package host

var (
	ParseLsattr = parseLsattr
	ParseLsof   = parseLsof
)
