package netLayer

import (
	"flag"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/biter777/countries"
	"github.com/meshproxy/meshproxy/utils"
	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"
)

var (
	geoipMu sync.RWMutex
	geoipDB *maxminddb.Reader

	GeoipFileName string
)

func init() {
	flag.StringVar(&GeoipFileName, "geoip", "GeoLite2-Country.mmdb", "geoip maxmind file name")
}

// LoadMaxmindGeoipFile loads fn as the process-wide geoip database. If fn is
// empty the GeoipFileName flag value is used. Missing file is not fatal;
// geoip rules simply never match then.
func LoadMaxmindGeoipFile(fn string) error {
	if fn == "" {
		fn = GeoipFileName
	}
	if fn == "" {
		return nil
	}
	bs, err := os.ReadFile(fn)
	if err != nil {
		return utils.ErrInErr{ErrDesc: "read geoip file failed", ErrDetail: err, Data: fn}
	}
	db, err := maxminddb.FromBytes(bs)
	if err != nil {
		return utils.ErrInErr{ErrDesc: "parse geoip file failed", ErrDetail: err, Data: fn}
	}
	geoipMu.Lock()
	geoipDB = db
	geoipMu.Unlock()

	if ce := utils.CanLogInfo("geoip loaded"); ce != nil {
		ce.Write(zap.String("file", fn))
	}
	return nil
}

func HasGeoipDB() bool {
	geoipMu.RLock()
	defer geoipMu.RUnlock()
	return geoipDB != nil
}

// GetIP_ISO returns the uppercase ISO 3166 country code of ip, or "".
func GetIP_ISO(ip net.IP) string {
	geoipMu.RLock()
	db := geoipDB
	geoipMu.RUnlock()
	if db == nil || len(ip) == 0 {
		return ""
	}
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := db.Lookup(ip, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// NormalizeISO accepts a country name or code in any case and returns the
// two-letter ISO 3166 code, or "" if the input names no known country.
func NormalizeISO(s string) string {
	if len(s) == 2 {
		c := countries.ByName(strings.ToUpper(s))
		if c != countries.Unknown {
			return c.Alpha2()
		}
	}
	c := countries.ByName(s)
	if c == countries.Unknown {
		return ""
	}
	return c.Alpha2()
}
