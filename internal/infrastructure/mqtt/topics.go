package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the show bus.
//
// Every show topic lives under graylogic/show so the node can share a
// broker with the rest of a Gray Logic installation:
//
//	graylogic/show/tag/{name...}        retained tag values (multi-level names)
//	graylogic/show/scene/{scene}/cue    cue entries for sync between nodes
//	graylogic/show/universe/{universe}  frames of tag-backed universes
//	graylogic/show/status               node online/offline (LWT)
const (
	// TopicPrefixShow is the base for all show topics.
	TopicPrefixShow = "graylogic/show"

	// TopicPrefixTag is the base for tag values.
	TopicPrefixTag = TopicPrefixShow + "/tag/"
)

// Topics provides builders for show MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Tag("fixture/spot1")
//	// Returns: "graylogic/show/tag/fixture/spot1"
type Topics struct{}

// Tag returns the topic carrying a tag value. Tag names may contain '/'.
//
// Example: graylogic/show/tag/fixture/spot1
func (Topics) Tag(name string) string {
	return TopicPrefixTag + name
}

// SceneCue returns the topic on which cue entries of a scene are published.
//
// Example: graylogic/show/scene/chase/cue
func (Topics) SceneCue(scene string) string {
	return fmt.Sprintf("%s/scene/%s/cue", TopicPrefixShow, scene)
}

// UniverseFrame returns the topic for frames of a tag-backed universe.
//
// Example: graylogic/show/universe/stage
func (Topics) UniverseFrame(universe string) string {
	return fmt.Sprintf("%s/universe/%s", TopicPrefixShow, universe)
}

// Status returns the node status topic.
//
// Example: graylogic/show/status
func (Topics) Status() string {
	return TopicPrefixShow + "/status"
}

// AllTags returns a pattern matching every tag.
//
// Pattern: graylogic/show/tag/#
func (Topics) AllTags() string {
	return TopicPrefixTag + "#"
}

// AllSceneCues returns a pattern matching cue entries of every scene.
//
// Pattern: graylogic/show/scene/+/cue
func (Topics) AllSceneCues() string {
	return TopicPrefixShow + "/scene/+/cue"
}

// AllTopics returns a pattern matching all show topics.
//
// Pattern: graylogic/show/#
func (Topics) AllTopics() string {
	return TopicPrefixShow + "/#"
}

// TagName extracts the tag name from a tag topic.
// The second result is false when topic is not a tag topic.
func (Topics) TagName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, TopicPrefixTag)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// SceneFromCueTopic extracts the scene name from a cue sync topic.
func (Topics) SceneFromCueTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixShow+"/scene/")
	if !ok {
		return "", false
	}
	scene, ok := strings.CutSuffix(rest, "/cue")
	if !ok || scene == "" || strings.Contains(scene, "/") {
		return "", false
	}
	return scene, true
}
