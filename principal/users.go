package principal

// Mock user identities for tests and scenarios.
var (
	Alice = SelfAuthenticating([]byte("ALICE"))
	Bob   = SelfAuthenticating([]byte("BOB"))
	John  = SelfAuthenticating([]byte("JOHN"))
	Parsa = SelfAuthenticating([]byte("PARSA"))
	Oz    = SelfAuthenticating([]byte("OZ"))
)

// Users lists the mock identities by name.
var Users = map[string]Principal{
	"alice": Alice,
	"bob":   Bob,
	"john":  John,
	"parsa": Parsa,
	"oz":    Oz,
}
