// Copyright 2025 AetherEngine
//
// Repositories bundles every repository over one client so services take a
// single dependency.

package database

// Repositories aggregates all repositories
type Repositories struct {
	Artifacts   *ArtifactRepository
	Apps        *ApplicationRepository
	PublicKeys  *PublicKeyRepository
	Events      *EventRepository
	Deployments *DeploymentRepository
	Users       *UserRepository
}

// NewRepositories creates all repositories sharing one client
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Artifacts:   NewArtifactRepository(client),
		Apps:        NewApplicationRepository(client),
		PublicKeys:  NewPublicKeyRepository(client),
		Events:      NewEventRepository(client),
		Deployments: NewDeploymentRepository(client),
		Users:       NewUserRepository(client),
	}
}
