package config

// NewGeminiForTest creates a Gemini config for testing purposes
func NewGeminiForTest(projectID, location string, dimension int) *Gemini {
	return &Gemini{
		projectID: projectID,
		location:  location,
		dimension: dimension,
	}
}

// NewAuthForTest creates an Auth config for testing purposes
func NewAuthForTest(jwtSecret, jwksURL, audience, noAuthUID string) *Auth {
	return &Auth{
		jwtSecret: jwtSecret,
		jwksURL:   jwksURL,
		audience:  audience,
		noAuthUID: noAuthUID,
	}
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, projectID, postgresDSN string) *Repository {
	return &Repository{
		backend:     backend,
		projectID:   projectID,
		postgresDSN: postgresDSN,
	}
}

// NewAppConfigForTest creates an AppConfig pointing at path
func NewAppConfigForTest(path string) *AppConfig {
	return &AppConfig{path: path}
}
