package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/meshproxy/meshproxy/machine"
	"github.com/meshproxy/meshproxy/netLayer"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"

	_ "github.com/meshproxy/meshproxy/proxy/forward"
	_ "github.com/meshproxy/meshproxy/proxy/httpproxy"
	_ "github.com/meshproxy/meshproxy/proxy/rule"
	_ "github.com/meshproxy/meshproxy/proxy/socks5"
)

const defaultConfFn = "meshproxy.yaml"

var (
	configFileName string
	startPProf     bool
	startMProf     bool
	showVersion    bool
	showNames      bool
)

func init() {
	flag.StringVar(&configFileName, "c", defaultConfFn, "config file name")
	flag.BoolVar(&startPProf, "pp", false, "cpu pprof")
	flag.BoolVar(&startMProf, "mp", false, "memory pprof")
	flag.BoolVar(&showVersion, "v", false, "print version and exit")
	flag.BoolVar(&showNames, "sn", false, "show supported net and server types, then exit")
}

func main() {
	os.Exit(mainFunc())
}

func mainFunc() (result int) {
	defer func() {
		if r := recover(); r != nil {
			if ce := utils.CanLogErr("captured panic"); ce != nil {
				ce.Write(zap.Any("err", r), zap.String("stack", string(debug.Stack())))
			}
			result = -3
		}
	}()

	flag.Parse()

	if showVersion {
		fmt.Println(versionStr())
		return 0
	}
	if showNames {
		proxy.PrintAllNetNames()
		proxy.PrintAllServerNames()
		return 0
	}

	utils.InitLog()
	utils.Info(versionStr())

	if startPProf {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}
	if startMProf {
		defer profile.Start(profile.MemProfile, profile.MemProfileRate(1), profile.ProfilePath(".")).Stop()
	}

	if err := netLayer.LoadMaxmindGeoipFile(""); err != nil {
		if ce := utils.CanLogWarn("geoip unavailable, geoip rules will not match"); ce != nil {
			ce.Write(zap.Error(err))
		}
	}

	m, err := machine.New(configFileName)
	if err != nil {
		if ce := utils.CanLogErr("init failed"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return -1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		hupCh := make(chan os.Signal, 1)
		signal.Notify(hupCh, syscall.SIGHUP)
		for range hupCh {
			utils.Info("SIGHUP received, reloading")
			m.Reload()
		}
	}()

	go func() {
		stopCh := make(chan os.Signal, 1)
		signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
		<-stopCh
		utils.Info("shutting down")
		cancel()
	}()

	if err := m.Run(ctx); err != nil {
		if ce := utils.CanLogErr("exiting"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return -1
	}
	return 0
}
