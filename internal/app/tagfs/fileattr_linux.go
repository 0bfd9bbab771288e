package tagfs

import (
	"os"
	"syscall"
	"time"
)

func getCreateTime(stat os.FileInfo) time.Time {
	sysStat := stat.Sys().(*syscall.Stat_t)
	return time.Unix(int64(sysStat.Ctim.Sec), int64(sysStat.Ctim.Nsec))
}
