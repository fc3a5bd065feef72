// Пакет replica — выбор лидера среди экземпляров catalog master.
//
// Экземпляры работают с общим CM_DATA_DIR (NFS v4+). Лидер определяется
// flock() на общем файле; выборы решают только «кто лидер», а переход
// catalog manager в состояние лидера выполняют коллбэки.
package replica

import (
	"fmt"
	"os"
)

// Role — роль экземпляра catalog master.
type Role string

const (
	// RoleStandalone — единственный экземпляр, выборов нет.
	RoleStandalone Role = "standalone"
	// RoleLeader — лидер: обслуживает master и tserver API.
	RoleLeader Role = "leader"
	// RoleFollower — follower: отвечает NOT_THE_LEADER с адресом лидера.
	RoleFollower Role = "follower"
)

// RoleProvider — текущая роль экземпляра (без барьера лидерства).
// Реализации: catalog.Manager, Election.
type RoleProvider interface {
	CurrentRole() Role
	IsLeader() bool
	// LeaderAddr — адрес лидера (host:port), пусто если неизвестен.
	LeaderAddr() string
}

// SelfAddr формирует адрес экземпляра: hostname:port.
// В K8s с headless Service hostname = "cm-0", "cm-1" — резолвится через DNS.
func SelfAddr(port int) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s:%d", hostname, port)
}
