package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"taskmarket/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

const referralPrefix = "TM"

type Generator interface {
	NextReferralCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

// NextReferralCode returns codes like TM004KX7: a base36 global sequence padded to
// four characters followed by two random characters.
func (g *RedisGenerator) NextReferralCode(ctx context.Context) (string, error) {
	seq, err := g.rdb.Incr(ctx, rediskey.ReferralSeq).Result()
	if err != nil {
		return "", err
	}

	suffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return FormatReferralCode(seq, suffix), nil
}

func FormatReferralCode(seq int64, suffix string) string {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 4 {
		encoded = strings.Repeat("0", 4-len(encoded)) + encoded
	}
	return fmt.Sprintf("%s%s%s", referralPrefix, encoded, suffix)
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
