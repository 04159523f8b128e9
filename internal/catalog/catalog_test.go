package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSublinesCacheKeyIsPerMainRoute(t *testing.T) {
	assert.Equal(t, "catalog:sublines:101", sublinesCacheKey(101))
	assert.NotEqual(t, sublinesCacheKey(101), sublinesCacheKey(202))
}

func TestMainRouteCacheKeyIsPerSubline(t *testing.T) {
	assert.Equal(t, "catalog:owning-route:1011", mainRouteCacheKey(1011))
	assert.NotEqual(t, mainRouteCacheKey(1011), mainRouteCacheKey(1012))
}
