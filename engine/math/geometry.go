package math

import "github.com/spaghettifunk/penumbra/engine/core"

// GeometryGenerateNormals writes flat face normals for every triangle.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)
		normal := edge1.Cross(edge2).Normalized()

		// NOTE: This just generates a face normal. Smoothing out should be done in a separate pass if desired.
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

// GeometryGenerateTangents derives per-triangle tangents and bitangents from
// the texture coordinates.
func GeometryGenerateTangents(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		deltaU1 := vertices[i1].Texcoord.X - vertices[i0].Texcoord.X
		deltaV1 := vertices[i1].Texcoord.Y - vertices[i0].Texcoord.Y
		deltaU2 := vertices[i2].Texcoord.X - vertices[i0].Texcoord.X
		deltaV2 := vertices[i2].Texcoord.Y - vertices[i0].Texcoord.Y

		dividend := deltaU1*deltaV2 - deltaU2*deltaV1
		if dividend == 0 {
			// Degenerate UVs, fall back to an arbitrary basis.
			dividend = 1
		}
		fc := 1.0 / dividend

		tangent := Vec3{
			fc * (deltaV2*edge1.X - deltaV1*edge2.X),
			fc * (deltaV2*edge1.Y - deltaV1*edge2.Y),
			fc * (deltaV2*edge1.Z - deltaV1*edge2.Z)}.Normalized()

		handedness := float32(1.0)
		if deltaV1*deltaU2-deltaV2*deltaU1 < 0.0 {
			handedness = -1.0
		}
		tangent = tangent.MulScalar(handedness)

		for _, idx := range [3]uint32{i0, i1, i2} {
			vertices[idx].Tangent = tangent
			vertices[idx].Bitangent = vertices[idx].Normal.Cross(tangent).Normalized()
		}
	}
}

func Vertex3dEqual(vert0 Vertex3D, vert1 Vertex3D) bool {
	return vert0.Position.Compare(vert1.Position, K_FLOAT_EPSILON) &&
		vert0.Normal.Compare(vert1.Normal, K_FLOAT_EPSILON) &&
		vert0.Texcoord.Compare(vert1.Texcoord, K_FLOAT_EPSILON) &&
		vert0.Colour.Compare(vert1.Colour, K_FLOAT_EPSILON) &&
		vert0.Tangent.Compare(vert1.Tangent, K_FLOAT_EPSILON)
}

// GeometryDeduplicateVertices collapses identical vertices and rewrites the
// index list in place to point at the unique set.
func GeometryDeduplicateVertices(vertices []Vertex3D, indices []uint32) []Vertex3D {
	unique := make([]Vertex3D, 0, len(vertices))
	remap := make([]uint32, len(vertices))

	for v := range vertices {
		found := false
		for u := range unique {
			if Vertex3dEqual(vertices[v], unique[u]) {
				remap[v] = uint32(u)
				found = true
				break
			}
		}
		if !found {
			remap[v] = uint32(len(unique))
			unique = append(unique, vertices[v])
		}
	}
	for i := range indices {
		indices[i] = remap[indices[i]]
	}

	core.LogDebug("geometry deduplicate vertices: removed %d vertices, orig/now %d/%d.", len(vertices)-len(unique), len(vertices), len(unique))
	return unique
}
