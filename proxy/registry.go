package proxy

import (
	"fmt"

	"github.com/meshproxy/meshproxy/utils"
)

var (
	netCreatorMap    = make(map[string]NetCreator)
	serverCreatorMap = make(map[string]ServerCreator)
)

// NetCreator builds a Net from its typed configuration. NewNetConfig returns
// a pointer to a fresh config struct for the resolver to decode into; by the
// time NewNet runs, every NetRef inside the config is resolved and every
// FileRef is tracked.
type NetCreator interface {
	NewNetConfig() any
	NewNet(cfg any) (Net, error)
}

// ServerCreator builds an inbound listener. bind is the listen address from
// the server spec, dialer the already-resolved Net it forwards through.
type ServerCreator interface {
	NewServerConfig() any
	NewServer(bind string, cfg any, dialer Net) (Server, error)
}

// Every package implementing a Net must register itself with this function,
// from init. The registry is read-only after process start.
func RegisterNet(name string, c NetCreator) {
	netCreatorMap[name] = c
}

func RegisterServer(name string, c ServerCreator) {
	serverCreatorMap[name] = c
}

func GetNetCreator(name string) (NetCreator, bool) {
	c, ok := netCreatorMap[name]
	return c, ok
}

func GetServerCreator(name string) (ServerCreator, bool) {
	c, ok := serverCreatorMap[name]
	return c, ok
}

func PrintAllNetNames() {
	fmt.Printf("===============================\nSupported net types:\n")
	for _, v := range utils.GetMapSortedKeySlice(netCreatorMap) {
		fmt.Println(v)
	}
}

func PrintAllServerNames() {
	fmt.Printf("===============================\nSupported server types:\n")
	for _, v := range utils.GetMapSortedKeySlice(serverCreatorMap) {
		fmt.Println(v)
	}
}
