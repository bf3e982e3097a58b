package logger

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrrotor/pkg/ring"
)

func MemberID(id ring.MemberID) zap.Field { return zap.Uint64("member_id", uint64(id)) }

func Partition(p int) zap.Field { return zap.Int("partition", p) }

func Offset(o uint64) zap.Field { return zap.Uint64("offset", o) }

func Size(n int) zap.Field { return zap.Int("cluster_size", n) }

func Addr(a string) zap.Field { return zap.String("addr", a) }

func Job(name string) zap.Field { return zap.String("job", name) }

func Err(err error) zap.Field { return zap.Error(err) }
