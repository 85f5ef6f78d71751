package aztables

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// devstoreaccount1 is the well known Azurite development account.
const azuriteAccountKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// NewTestContainer starts Azurite's table service and returns a connection
// string for it.
func NewTestContainer(t Testing) string {
	ctx := t.Context()
	c, err := testcontainers.Run(
		ctx, "mcr.microsoft.com/azure-storage/azurite:latest",
		testcontainers.WithCmd("azurite-table", "--tableHost", "0.0.0.0", "--skipApiVersionCheck", "--loose"),
		testcontainers.WithExposedPorts("10002/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("10002/tcp")),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	ip, err := c.ContainerIP(ctx)
	require.NoError(t, err)
	t.Logf("azurite ip: %s", ip)

	return fmt.Sprintf(
		"DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=%s;TableEndpoint=http://%s:10002/devstoreaccount1;",
		azuriteAccountKey, ip,
	)
}
