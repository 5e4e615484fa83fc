package env

import (
	"net"
	"sync"
)

var (
	localhostIP string
	once        sync.Once
)

func findLocalHostIP() {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		localhostIP = "127.0.0.1"
		return
	}

	for _, address := range addrs {
		// 跳过回环地址
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				localhostIP = ipnet.IP.String()
				return
			}
		}
	}
	localhostIP = "127.0.0.1"
}

// GetLocalHostIP 第一个非回环IPv4地址，找不到时返回127.0.0.1
func GetLocalHostIP() string {
	once.Do(findLocalHostIP)
	return localhostIP
}
