package utils

import (
	"fmt"
	"math/rand"
	"time"
)

var seededRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// GenerateOrderNo builds an out-trade-no from the current timestamp plus a
// 4-digit random suffix. Collisions are practically unlikely, not prevented;
// the unique index on orders.order_no rejects the rare loser, and provider
// conflicts regenerate the number anyway.
func GenerateOrderNo() string {
	return fmt.Sprintf("%s%04d", time.Now().Format("20060102150405"), seededRand.Intn(10000))
}
